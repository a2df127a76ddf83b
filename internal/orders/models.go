package orders

import (
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/shopspring/decimal"
)

type PaymentForm string

const (
	FormCard   PaymentForm = "card"
	FormPix    PaymentForm = "pix"
	FormBoleto PaymentForm = "boleto"
)

func (f PaymentForm) Valid() bool {
	switch f {
	case FormCard, FormPix, FormBoleto:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type DeliveryType string

const (
	DeliveryShipped DeliveryType = "delivery"
	DeliveryPickup  DeliveryType = "pickup"
)

const DeliveryAwaitingConfirmation = "awaiting_confirmation"

type Address struct {
	Street       string `json:"street"`
	Number       string `json:"number,omitempty"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
}

type Order struct {
	ID          string
	ClientID    string
	Status      Status
	TotalAmount decimal.Decimal
	DeliveryID  string
	PaymentID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Line struct {
	ID          string
	OrderID     string
	ProductID   string
	VariationID string // empty unless the line bought a variation
	Name        string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
}

type Delivery struct {
	ID           string
	OrderID      string
	Type         DeliveryType
	Cost         decimal.Decimal
	Status       string
	Address      *Address // nil for pickup
	TrackingCode string
}

// PaymentArtifacts are the method-specific values returned by the gateway.
type PaymentArtifacts struct {
	PixQRCode     string `json:"pix_qr_code,omitempty"`
	PixQRCodeURL  string `json:"pix_qr_code_url,omitempty"`
	BoletoURL     string `json:"boleto_url,omitempty"`
	BoletoBarcode string `json:"boleto_barcode,omitempty"`
}

type Payment struct {
	ID           string
	OrderID      string
	Form         PaymentForm
	Status       PaymentStatus
	Value        decimal.Decimal
	GatewayID    string
	Installments int
	Artifacts    PaymentArtifacts
}

// Placement is everything written for one checkout.
type Placement struct {
	Order    Order
	Delivery Delivery
	Payment  Payment
	Lines    []Line
}

// LinesFrom freezes resolved catalog lines into order lines.
func LinesFrom(orderID string, resolved []catalog.Line) []Line {
	out := make([]Line, 0, len(resolved))
	for _, rl := range resolved {
		l := Line{
			OrderID:    orderID,
			ProductID:  rl.Ref.ProductID,
			Name:       rl.Title,
			Quantity:   rl.Quantity,
			UnitPrice:  rl.UnitPrice,
			TotalPrice: rl.Total(),
		}
		if rl.Ref.IsVariation() {
			l.VariationID = rl.Ref.VariationID
		}
		out = append(out, l)
	}
	return out
}

// CheckTotal verifies total_amount == sum(line totals) + delivery cost.
func (p Placement) CheckTotal() error {
	sum := p.Delivery.Cost
	for _, l := range p.Lines {
		if !l.TotalPrice.Equal(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))) {
			return fmt.Errorf("line %s: total %s != %s x %d", l.ProductID, l.TotalPrice, l.UnitPrice, l.Quantity)
		}
		sum = sum.Add(l.TotalPrice)
	}
	if !sum.Equal(p.Order.TotalAmount) {
		return fmt.Errorf("order total %s != lines + delivery %s", p.Order.TotalAmount, sum)
	}
	return nil
}
