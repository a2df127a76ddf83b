package notify

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	kafkax "github.com/ariefcatur/storefront-checkout/internal/kafka"
)

const (
	TopicNotificationRequested = "notification.requested"
	EventNotificationRequested = "NotificationRequested"
)

type Kind string

const (
	KindOrderCreated     Kind = "order_created"
	KindPaymentConfirmed Kind = "payment_confirmed"
	KindDispatched       Kind = "dispatched"
)

// Summary is the order data an e-mail is rendered from.
type Summary struct {
	OrderID       string          `json:"order_id"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	PixCode       string          `json:"pix_code,omitempty"`
	BoletoURL     string          `json:"boleto_url,omitempty"`
	TrackingCode  string          `json:"tracking_code,omitempty"`
}

// Request is the payload of a NotificationRequested event: one e-mail to one address.
type Request struct {
	Kind    Kind    `json:"kind"`
	To      string  `json:"to"`
	Name    string  `json:"name"`
	Summary Summary `json:"summary"`
}

type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// Publisher hands notification requests to the notifier process over Kafka.
type Publisher struct {
	P           publisher
	ServiceName string
}

func NewPublisher(p publisher, serviceName string) *Publisher {
	return &Publisher{P: p, ServiceName: serviceName}
}

func (p *Publisher) NotifyCustomer(ctx context.Context, to, name string, s Summary) error {
	return p.send(ctx, Request{Kind: KindOrderCreated, To: to, Name: name, Summary: s})
}

// NotifyAdmin sends the order-created e-mail to one staff address, without
// the payment instructions meant for the buyer.
func (p *Publisher) NotifyAdmin(ctx context.Context, to string, s Summary) error {
	s.PixCode, s.BoletoURL = "", ""
	return p.send(ctx, Request{Kind: KindOrderCreated, To: to, Name: "Administrador", Summary: s})
}

func (p *Publisher) NotifyPaymentConfirmed(ctx context.Context, to, name, orderID string) error {
	return p.send(ctx, Request{Kind: KindPaymentConfirmed, To: to, Name: name, Summary: Summary{OrderID: orderID}})
}

func (p *Publisher) NotifyDispatched(ctx context.Context, to, name, orderID, trackingCode string) error {
	return p.send(ctx, Request{Kind: KindDispatched, To: to, Name: name,
		Summary: Summary{OrderID: orderID, TrackingCode: trackingCode}})
}

func (p *Publisher) send(ctx context.Context, r Request) error {
	if r.To == "" {
		return fmt.Errorf("notify %s: empty destination", r.Kind)
	}
	env, err := kafkax.NewEnvelope(EventNotificationRequested, p.ServiceName, r.Summary.OrderID, r)
	if err != nil {
		return err
	}
	return p.P.Publish(ctx, []byte(r.Summary.OrderID), kafkax.MustMarshal(env), env.Headers()...)
}
