package checkout

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
)

// Identity is the authenticated caller, resolved before the workflow starts.
type Identity struct {
	UserID string
}

type Item struct {
	Ref      catalog.LineRef
	Quantity int
	// Name and Price are what the client displayed; both are replaced by catalog values.
	Name  string
	Price decimal.Decimal
}

type ShippingChoice struct {
	Pickup  bool
	Address orders.Address
}

type Customer struct {
	Name     string
	Email    string
	Document string
}

type Request struct {
	UserID   string
	Items    []Item
	Shipping ShippingChoice
	Method   orders.PaymentForm
	Customer Customer
	Card     *payment.Card
}

type PixArtifacts struct {
	QRCode    string `json:"qr_code"`
	QRCodeURL string `json:"qr_code_url"`
}

type BoletoArtifacts struct {
	URL     string `json:"url"`
	Barcode string `json:"barcode"`
}

// Result is the uniform answer to a checkout attempt.
type Result struct {
	Success bool             `json:"success"`
	OrderID string           `json:"order_id,omitempty"`
	Message string           `json:"message,omitempty"`
	Pix     *PixArtifacts    `json:"pix,omitempty"`
	Boleto  *BoletoArtifacts `json:"boleto,omitempty"`

	Err error `json:"-"`
}

func failure(err error) Result {
	return Result{Success: false, Message: message(err), Err: err}
}

func validate(id Identity, req Request) error {
	if id.UserID == "" || (req.UserID != "" && req.UserID != id.UserID) {
		return invalid("user not authenticated")
	}
	if len(req.Items) == 0 {
		return invalid("cart is empty")
	}
	for i, it := range req.Items {
		if it.Ref.ProductID == "" {
			return invalid("item %d: product id is required", i)
		}
		if it.Ref.IsVariation() && it.Ref.VariationID == "" {
			return invalid("item %d: variation id is required", i)
		}
		if it.Quantity < 1 {
			return invalid("item %d: quantity must be at least 1", i)
		}
	}
	if !req.Method.Valid() {
		return invalid("unknown payment method %q", req.Method)
	}
	if req.Method == orders.FormCard {
		if req.Card == nil {
			return invalid("card details are required")
		}
		if req.Card.Installments < 1 {
			return invalid("installments must be at least 1")
		}
	}
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Email) == "" {
		return invalid("customer name and email are required")
	}
	if !req.Shipping.Pickup && strings.TrimSpace(req.Shipping.Address.PostalCode) == "" {
		return invalid("postal code is required for delivery")
	}
	return nil
}
