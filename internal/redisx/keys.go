package redisx

import "time"

const (
	// idem:checkout:{user_id}:{idempotency_key} -> checkout result JSON
	KeyCheckoutResult = "idem:checkout:%s:%s"

	// lock:checkout:{user_id}:{idempotency_key} held while the checkout runs
	KeyCheckoutLock = "lock:checkout:%s:%s"

	// order_status:{order_id} -> {"status": "...", "client_id": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLCheckoutLock = 2 * time.Minute
	TTLStatusCache  = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
)
