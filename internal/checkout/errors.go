package checkout

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/shipping"
)

var (
	ErrValidation          = errors.New("invalid request")
	ErrNotFound            = errors.New("item not found")
	ErrShippingUnavailable = errors.New("shipping unavailable")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrGatewayRejected     = errors.New("payment rejected")
	ErrGatewayUnreachable  = errors.New("payment gateway unreachable")
	ErrPersistence         = errors.New("order could not be saved")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// classify maps a component error onto the checkout taxonomy. Errors that fit
// no class are returned unchanged and surface as internal failures.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrShippingUnavailable), errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrGatewayRejected), errors.Is(err, ErrGatewayUnreachable),
		errors.Is(err, ErrPersistence):
		return err
	case errors.Is(err, catalog.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, shipping.ErrMalformedPostalCode), errors.Is(err, payment.ErrInvalidPayload):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, shipping.ErrUnserviceable), errors.Is(err, shipping.ErrUpstreamUnavailable):
		return fmt.Errorf("%w: %w", ErrShippingUnavailable, err)
	case errors.Is(err, orders.ErrInsufficientStock):
		return fmt.Errorf("%w: %w", ErrInsufficientStock, err)
	case errors.Is(err, payment.ErrGatewayRejected):
		return fmt.Errorf("%w: %w", ErrGatewayRejected, err)
	case errors.Is(err, payment.ErrGatewayUnreachable):
		return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	return err
}

// outcome is the metric label for a classified error.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrShippingUnavailable):
		return "shipping_unavailable"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrGatewayRejected):
		return "gateway_rejected"
	case errors.Is(err, ErrGatewayUnreachable):
		return "gateway_unreachable"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	}
	return "internal"
}

// message is the text shown to the buyer. Storage and internal failures
// stay generic.
func message(err error) string {
	switch outcome(err) {
	case "internal":
		return "checkout failed, please try again"
	case "persistence":
		return ErrPersistence.Error() + ", please try again"
	}
	return err.Error()
}
