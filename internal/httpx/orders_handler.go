package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-checkout/internal/accounts"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/redisx"
)

type OrderReader interface {
	GetOrderStatus(ctx context.Context, orderID, clientID string) (orders.StatusSnapshot, error)
	DispatchInfo(ctx context.Context, orderID string) (orders.DispatchInfo, error)
}

type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Set(ctx context.Context, orderID string, s redisx.CachedStatus) (bool, error)
	Invalidate(ctx context.Context, orderID string) error
}

type AccountDirectory interface {
	Profile(ctx context.Context, uid string) (accounts.Profile, error)
	IsAdmin(ctx context.Context, uid string) (bool, error)
}

type DispatchNotifier interface {
	NotifyDispatched(ctx context.Context, to, name, orderID, trackingCode string) error
}

type OrdersHandler struct {
	Orders   OrderReader
	Cache    StatusCache // optional
	Accounts AccountDirectory
	Notifier DispatchNotifier
}

type orderStatusResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Cached  bool   `json:"cached"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/admin/orders/{id}/dispatch", h.notifyDispatch)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		fail(w, r, http.StatusUnauthorized, "user not authenticated")
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	log := logging.FromContext(ctx)

	if h.Cache != nil {
		cached, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			log.Warn("status_cache_get_failed", zap.Error(err))
		}
		if ok {
			if cached.ClientID != uid {
				fail(w, r, http.StatusNotFound, "order not found")
				return
			}
			reply(w, r, http.StatusOK, orderStatusResp{OrderID: orderID, Status: cached.Status, Cached: true})
			return
		}
	}

	snap, err := h.Orders.GetOrderStatus(ctx, orderID, uid)
	if errors.Is(err, orders.ErrOrderNotFound) {
		fail(w, r, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		log.Error("order_status_failed", zap.String("order_id", orderID), zap.Error(err))
		fail(w, r, http.StatusInternalServerError, "could not load order")
		return
	}

	// A webhook may have cached a newer version meanwhile; Set keeps it.
	if h.Cache != nil {
		entry := redisx.CachedStatus{Status: string(snap.Status), ClientID: uid, UpdatedAt: snap.UpdatedAt}
		if _, err := h.Cache.Set(ctx, orderID, entry); err != nil {
			log.Warn("status_cache_set_failed", zap.Error(err))
		}
	}
	reply(w, r, http.StatusOK, orderStatusResp{OrderID: orderID, Status: string(snap.Status)})
}

// notifyDispatch e-mails the buyer that an order left the store.
func (h *OrdersHandler) notifyDispatch(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		fail(w, r, http.StatusUnauthorized, "user not authenticated")
		return
	}
	ctx := r.Context()
	log := logging.FromContext(ctx)

	admin, err := h.Accounts.IsAdmin(ctx, uid)
	if err != nil {
		log.Error("admin_check_failed", zap.Error(err))
		fail(w, r, http.StatusInternalServerError, "could not verify permissions")
		return
	}
	if !admin {
		fail(w, r, http.StatusForbidden, "admin capability required")
		return
	}

	orderID := chi.URLParam(r, "id")
	info, err := h.Orders.DispatchInfo(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		fail(w, r, http.StatusNotFound, "order or customer not found")
		return
	}
	if err != nil {
		log.Error("dispatch_info_failed", zap.String("order_id", orderID), zap.Error(err))
		fail(w, r, http.StatusInternalServerError, "could not load order")
		return
	}
	client, err := h.Accounts.Profile(ctx, info.ClientID)
	if errors.Is(err, accounts.ErrNotFound) || (err == nil && client.Email == "") {
		fail(w, r, http.StatusNotFound, "order or customer not found")
		return
	}
	if err != nil {
		log.Error("dispatch_profile_failed", zap.String("order_id", orderID), zap.Error(err))
		fail(w, r, http.StatusInternalServerError, "could not load customer")
		return
	}

	if err := h.Notifier.NotifyDispatched(ctx, client.Email, client.Name, info.OrderID, info.TrackingCode); err != nil {
		log.Error("dispatch_notify_failed", zap.String("order_id", orderID), zap.Error(err))
		fail(w, r, http.StatusInternalServerError, "could not queue notification")
		return
	}
	reply(w, r, http.StatusAccepted, map[string]bool{"success": true})
}
