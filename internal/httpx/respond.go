package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/ariefcatur/storefront-checkout/internal/checkout"
)

type failureBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func fail(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, failureBody{Success: false, Message: msg})
}

func reply(w http.ResponseWriter, r *http.Request, code int, v any) {
	render.Status(r, code)
	render.JSON(w, r, v)
}

// statusFor maps the checkout error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, checkout.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, checkout.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrShippingUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrGatewayRejected):
		return http.StatusBadGateway
	case errors.Is(err, checkout.ErrGatewayUnreachable):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
