package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/ariefcatur/storefront-checkout/internal/checkout"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
)

type CheckoutService interface {
	Checkout(ctx context.Context, id checkout.Identity, req checkout.Request) checkout.Result
}

type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, key string, out any) (bool, error)
	Save(ctx context.Context, userID, key string, v any) error
	Acquire(ctx context.Context, userID, key string) (func(context.Context), error)
}

type CheckoutHandler struct {
	Service     CheckoutService
	Idempotency IdempotencyStore // optional
}

const IdempotencyHeader = "Idempotency-Key"

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
}

type checkoutItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	VariationID string          `json:"variation_id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// ref decides product vs variation once, here. An explicit variation_id
// wins; otherwise an id that differs from product_id names a variation.
func (it checkoutItem) ref() catalog.LineRef {
	switch {
	case it.VariationID != "":
		return catalog.VariationRef(it.VariationID, it.ProductID)
	case it.ID != "" && it.ID != it.ProductID:
		return catalog.VariationRef(it.ID, it.ProductID)
	}
	return catalog.ProductRef(it.ProductID)
}

type checkoutAddress struct {
	Street       string `json:"street"`
	Number       string `json:"number"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
}

type checkoutBody struct {
	UserID   string         `json:"user_id"`
	Items    []checkoutItem `json:"items"`
	Shipping struct {
		IsPickup bool            `json:"is_pickup"`
		Method   string          `json:"method"`
		Address  checkoutAddress `json:"address"`
	} `json:"shipping"`
	PaymentMethod string `json:"payment_method"`
	Customer      struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		CPF   string `json:"cpf"`
	} `json:"customer"`
	Card *struct {
		Number       string `json:"card_number"`
		HolderName   string `json:"holder_name"`
		Expiration   string `json:"expiration"`
		CVV          string `json:"cvv"`
		Installments int    `json:"installments"`
	} `json:"card"`
}

func (b checkoutBody) request() checkout.Request {
	req := checkout.Request{
		UserID: b.UserID,
		Items:  make([]checkout.Item, 0, len(b.Items)),
		Shipping: checkout.ShippingChoice{
			Pickup: b.Shipping.IsPickup || strings.EqualFold(b.Shipping.Method, "pickup"),
			Address: orders.Address{
				Street:       b.Shipping.Address.Street,
				Number:       b.Shipping.Address.Number,
				Neighborhood: b.Shipping.Address.Neighborhood,
				City:         b.Shipping.Address.City,
				State:        b.Shipping.Address.State,
				PostalCode:   b.Shipping.Address.ZipCode,
			},
		},
		Method: orders.PaymentForm(strings.ToLower(b.PaymentMethod)),
		Customer: checkout.Customer{
			Name:     b.Customer.Name,
			Email:    b.Customer.Email,
			Document: b.Customer.CPF,
		},
	}
	for _, it := range b.Items {
		req.Items = append(req.Items, checkout.Item{Ref: it.ref(), Quantity: it.Quantity, Name: it.Name, Price: it.Price})
	}
	if b.Card != nil {
		req.Card = &payment.Card{
			Number:       b.Card.Number,
			Holder:       b.Card.HolderName,
			Expiry:       b.Card.Expiration,
			CVV:          b.Card.CVV,
			Installments: b.Card.Installments,
		}
	}
	return req
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	uid := userID(r)
	if uid == "" {
		fail(w, r, http.StatusUnauthorized, "user not authenticated")
		return
	}

	var body checkoutBody
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		fail(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.Idempotency != nil {
		var prev checkout.Result
		found, err := h.Idempotency.Lookup(r.Context(), uid, key, &prev)
		if err != nil {
			log.Warn("idempotency_lookup_failed", zap.Error(err))
		} else if found {
			w.Header().Set("Idempotent-Replayed", "true")
			reply(w, r, http.StatusOK, prev)
			return
		}

		release, err := h.Idempotency.Acquire(r.Context(), uid, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			fail(w, r, http.StatusConflict, "a checkout with this idempotency key is already in progress")
			return
		case err != nil:
			log.Warn("idempotency_lock_failed", zap.Error(err))
		default:
			defer release(context.WithoutCancel(r.Context()))
			// The holder before us may have finished between lookup and lock.
			if found, err := h.Idempotency.Lookup(r.Context(), uid, key, &prev); err == nil && found {
				w.Header().Set("Idempotent-Replayed", "true")
				reply(w, r, http.StatusOK, prev)
				return
			}
		}
	}

	res := h.Service.Checkout(r.Context(), checkout.Identity{UserID: uid}, body.request())

	if res.Success && key != "" && h.Idempotency != nil {
		if err := h.Idempotency.Save(context.WithoutCancel(r.Context()), uid, key, res); err != nil {
			log.Warn("idempotency_save_failed", zap.String("order_id", res.OrderID), zap.Error(err))
		}
	}
	reply(w, r, statusFor(res.Err), res)
}
