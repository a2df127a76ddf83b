package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusAwaitingPayment, StatusPaymentConfirmed))
	assert.True(t, CanTransition(StatusPaymentFailed, StatusPaymentConfirmed))
	assert.True(t, CanTransition(StatusShipped, StatusDelivered))

	// confirmed orders never go back to pending or failed
	assert.False(t, CanTransition(StatusPaymentConfirmed, StatusAwaitingPayment))
	assert.False(t, CanTransition(StatusPaymentConfirmed, StatusPaymentFailed))
	assert.False(t, CanTransition(StatusDelivered, StatusShipped))
	assert.False(t, CanTransition(StatusCanceled, StatusPaymentConfirmed))
	assert.False(t, CanTransition(Status("bogus"), StatusPaymentConfirmed))
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, StatusAwaitingPayment, InitialStatus(PaymentPending))
	assert.Equal(t, StatusAwaitingPayment, InitialStatus(""))
	assert.Equal(t, StatusPaymentConfirmed, InitialStatus(PaymentPaid))
	assert.Equal(t, StatusPaymentFailed, InitialStatus(PaymentFailed))
}
