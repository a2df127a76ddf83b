package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/storefront-checkout/internal/kafka"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
)

type Sender interface {
	Send(ctx context.Context, e Email) error
}

// Worker consumes NotificationRequested events and sends one e-mail each.
type Worker struct {
	Redis       redis.Cmdable
	Sender      Sender
	Metrics     *metrics.Notifier
	Log         *zap.Logger
	ServiceName string
}

// Handle is installed as the Kafka consumer handler. Events are deduplicated
// by event id; a failed send releases the claim so redelivery can retry.
func (w *Worker) Handle(ctx context.Context, m kafka.Message) error {
	var env kafkax.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		w.Log.Warn("notification_envelope_invalid", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != EventNotificationRequested {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, w.ServiceName, env.EventID)
	first, err := redisx.Claim(ctx, w.Redis, dkey, redisx.TTLDedup)
	if err != nil {
		return fmt.Errorf("dedup claim: %w", err)
	}
	if !first {
		return nil
	}

	req, err := kafkax.UnwrapPayload[Request](env.Payload)
	if err != nil {
		w.Log.Warn("notification_payload_invalid", zap.String("event_id", env.EventID), zap.Error(err))
		w.count(Kind("unknown"), "invalid")
		return nil
	}
	log := w.Log.With(
		zap.String("event_id", env.EventID),
		zap.String("order_id", req.Summary.OrderID),
		zap.String("kind", string(req.Kind)),
	)

	email, err := Render(req)
	if err != nil {
		log.Warn("notification_render_failed", zap.Error(err))
		w.count(req.Kind, "invalid")
		return nil
	}
	if err := w.Sender.Send(ctx, email); err != nil {
		_ = redisx.Release(context.WithoutCancel(ctx), w.Redis, dkey)
		w.count(req.Kind, "failed")
		return fmt.Errorf("send %s: %w", req.Kind, err)
	}
	w.count(req.Kind, "sent")
	log.Info("notification_sent")
	return nil
}

func (w *Worker) count(k Kind, outcome string) {
	if w.Metrics != nil {
		w.Metrics.Sent.WithLabelValues(string(k), outcome).Inc()
	}
}
