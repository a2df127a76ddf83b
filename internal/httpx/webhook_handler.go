package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-checkout/internal/accounts"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
)

type StatusAdvancer interface {
	AdvanceStatus(ctx context.Context, orderID string, to orders.Status, p orders.PaymentStatus) (orders.Advance, error)
}

type PaymentNotifier interface {
	NotifyPaymentConfirmed(ctx context.Context, to, name, orderID string) error
}

// WebhookHandler is the second writer of order status: it applies gateway
// payment events through the state machine.
type WebhookHandler struct {
	Secret   string
	Orders   StatusAdvancer
	Cache    StatusCache // optional
	Profiles interface {
		Profile(ctx context.Context, uid string) (accounts.Profile, error)
	}
	Notifier PaymentNotifier
}

const SignatureHeader = "Pagarme-Signature"

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.receive)
}

type ackBody struct {
	Received bool `json:"received"`
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "could not read body")
		return
	}
	if err := payment.VerifySignature(h.Secret, raw, r.Header.Get(SignatureHeader)); err != nil {
		fail(w, r, http.StatusUnauthorized, "invalid signature")
		return
	}
	ev, err := payment.DecodeEvent(raw)
	if err != nil {
		fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	log = log.With(zap.String("event_type", ev.Type), zap.String("order_id", ev.OrderID))

	var (
		to orders.Status
		ps orders.PaymentStatus
	)
	switch ev.Kind {
	case payment.EventPaid:
		to, ps = orders.StatusPaymentConfirmed, orders.PaymentPaid
	case payment.EventFailed:
		to, ps = orders.StatusPaymentFailed, orders.PaymentFailed
	default:
		reply(w, r, http.StatusOK, ackBody{Received: true})
		return
	}
	if ev.OrderID == "" {
		log.Warn("webhook_without_order")
		reply(w, r, http.StatusOK, ackBody{Received: true})
		return
	}

	adv, err := h.Orders.AdvanceStatus(ctx, ev.OrderID, to, ps)
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		log.Warn("webhook_unknown_order")
		reply(w, r, http.StatusOK, ackBody{Received: true})
		return
	case errors.Is(err, orders.ErrInvalidTransition):
		log.Info("webhook_transition_ignored", zap.String("from", string(adv.From)), zap.String("to", string(to)))
		reply(w, r, http.StatusOK, ackBody{Received: true})
		return
	case err != nil:
		log.Error("webhook_advance_failed", zap.Error(err))
		fail(w, r, http.StatusInternalServerError, "could not update order")
		return
	}
	if !adv.Changed {
		reply(w, r, http.StatusOK, ackBody{Received: true})
		return
	}
	log.Info("order_status_advanced", zap.String("from", string(adv.From)), zap.String("to", string(adv.To)))

	h.refreshCache(ctx, log, adv)
	if to == orders.StatusPaymentConfirmed {
		h.confirmPayment(ctx, log, adv)
	}
	reply(w, r, http.StatusOK, ackBody{Received: true})
}

// refreshCache writes the new status with its row version, so a reader that
// loaded the old row cannot put it back. Dropping the entry is the fallback.
func (h *WebhookHandler) refreshCache(ctx context.Context, log *zap.Logger, adv orders.Advance) {
	if h.Cache == nil {
		return
	}
	entry := redisx.CachedStatus{Status: string(adv.To), ClientID: adv.ClientID, UpdatedAt: adv.UpdatedAt}
	if _, err := h.Cache.Set(ctx, adv.OrderID, entry); err != nil {
		log.Warn("status_cache_set_failed", zap.Error(err))
		if err := h.Cache.Invalidate(ctx, adv.OrderID); err != nil {
			log.Warn("status_cache_invalidate_failed", zap.Error(err))
		}
	}
}

// confirmPayment is best effort; the status change is already committed.
func (h *WebhookHandler) confirmPayment(ctx context.Context, log *zap.Logger, adv orders.Advance) {
	if h.Notifier == nil || h.Profiles == nil || adv.ClientID == "" {
		return
	}
	p, err := h.Profiles.Profile(ctx, adv.ClientID)
	if err != nil || p.Email == "" {
		log.Warn("payment_confirmed_no_recipient", zap.Error(err))
		return
	}
	name := p.Name
	if name == "" {
		name = "Cliente"
	}
	if err := h.Notifier.NotifyPaymentConfirmed(ctx, p.Email, name, adv.OrderID); err != nil {
		log.Warn("payment_confirmed_notify_failed", zap.Error(err))
	}
}
