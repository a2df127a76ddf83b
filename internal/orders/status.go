package orders

type Status string

const (
	StatusAwaitingPayment  Status = "awaiting_payment"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusPaymentFailed    Status = "payment_failed"
	StatusPreparing        Status = "preparing"
	StatusShipped          Status = "shipped"
	StatusDelivered        Status = "delivered"
	StatusCanceled         Status = "canceled"
)

// Checkout creates orders; the payment webhook and fulfilment only advance them.
var validNext = map[Status]map[Status]bool{
	StatusAwaitingPayment:  {StatusPaymentConfirmed: true, StatusPaymentFailed: true, StatusCanceled: true},
	StatusPaymentFailed:    {StatusPaymentConfirmed: true, StatusCanceled: true},
	StatusPaymentConfirmed: {StatusPreparing: true, StatusCanceled: true},
	StatusPreparing:        {StatusShipped: true},
	StatusShipped:          {StatusDelivered: true},
	StatusDelivered:        {},
	StatusCanceled:         {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// InitialStatus maps the charge status reported at creation time.
func InitialStatus(charge PaymentStatus) Status {
	switch charge {
	case PaymentPaid:
		return StatusPaymentConfirmed
	case PaymentFailed:
		return StatusPaymentFailed
	}
	return StatusAwaitingPayment
}
