package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

type Repo struct{ DB *pgxpool.Pool }

// CreatePlacement writes order, delivery, payment, back-links and lines in one
// transaction. Either every row exists afterwards or none does.
func (r *Repo) CreatePlacement(ctx context.Context, p Placement) (Placement, error) {
	if err := p.CheckTotal(); err != nil {
		return Placement{}, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Placement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx, `
		INSERT INTO orders(id, client_id, status, total_amount)
		VALUES ($1, $2, $3, $4::numeric)`,
		p.Order.ID, p.Order.ClientID, string(p.Order.Status), p.Order.TotalAmount.String(),
	); err != nil {
		return Placement{}, fmt.Errorf("insert order: %w", err)
	}

	var address any
	if p.Delivery.Address != nil {
		b, err := json.Marshal(p.Delivery.Address)
		if err != nil {
			return Placement{}, err
		}
		address = string(b)
	}
	if err = tx.QueryRow(ctx, `
		INSERT INTO deliveries(order_id, type, cost, status, address)
		VALUES ($1, $2, $3::numeric, $4, $5::jsonb)
		RETURNING id::text`,
		p.Order.ID, string(p.Delivery.Type), p.Delivery.Cost.String(), p.Delivery.Status, address,
	).Scan(&p.Delivery.ID); err != nil {
		return Placement{}, fmt.Errorf("insert delivery: %w", err)
	}

	artifacts, err := json.Marshal(p.Payment.Artifacts)
	if err != nil {
		return Placement{}, err
	}
	if err = tx.QueryRow(ctx, `
		INSERT INTO payments(order_id, form, status, value, gateway_id, installments, payload)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::jsonb)
		RETURNING id::text`,
		p.Order.ID, string(p.Payment.Form), string(p.Payment.Status), p.Payment.Value.String(),
		p.Payment.GatewayID, p.Payment.Installments, string(artifacts),
	).Scan(&p.Payment.ID); err != nil {
		return Placement{}, fmt.Errorf("insert payment: %w", err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE orders SET delivery_id = $2, payment_id = $3, updated_at = now()
		WHERE id = $1`, p.Order.ID, p.Delivery.ID, p.Payment.ID,
	); err != nil {
		return Placement{}, fmt.Errorf("link order: %w", err)
	}
	p.Order.DeliveryID, p.Order.PaymentID = p.Delivery.ID, p.Payment.ID
	p.Delivery.OrderID, p.Payment.OrderID = p.Order.ID, p.Order.ID

	for i, l := range p.Lines {
		var variationID *string
		if l.VariationID != "" {
			variationID = &l.VariationID
		}
		if err = tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, variation_id, name, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric)
			RETURNING id::text`,
			p.Order.ID, l.ProductID, variationID, l.Name, l.Quantity, l.UnitPrice.String(), l.TotalPrice.String(),
		).Scan(&p.Lines[i].ID); err != nil {
			return Placement{}, fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Placement{}, err
	}
	return p, nil
}

// StatusSnapshot is an order status and the time it was last written.
type StatusSnapshot struct {
	Status    Status
	UpdatedAt time.Time
}

// GetOrderStatus returns the status of an order owned by clientID.
func (r *Repo) GetOrderStatus(ctx context.Context, orderID, clientID string) (StatusSnapshot, error) {
	var (
		s    string
		snap StatusSnapshot
	)
	err := r.DB.QueryRow(ctx,
		`SELECT status, updated_at FROM orders WHERE id::text = $1 AND client_id::text = $2`, orderID, clientID,
	).Scan(&s, &snap.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusSnapshot{}, ErrOrderNotFound
	}
	if err != nil {
		return StatusSnapshot{}, err
	}
	snap.Status = Status(s)
	return snap, nil
}

// Advance is the outcome of a status change request.
type Advance struct {
	OrderID   string
	ClientID  string
	From      Status
	To        Status
	Changed   bool
	UpdatedAt time.Time // row version after the call
}

// AdvanceStatus moves an order forward and mirrors the payment status.
// Re-applying the current status is a no-op; regressions are rejected.
func (r *Repo) AdvanceStatus(ctx context.Context, orderID string, to Status, payment PaymentStatus) (Advance, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Advance{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	adv := Advance{OrderID: orderID, To: to}
	var from string
	err = tx.QueryRow(ctx,
		`SELECT status, client_id::text, updated_at FROM orders WHERE id::text = $1 FOR UPDATE`, orderID,
	).Scan(&from, &adv.ClientID, &adv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Advance{}, ErrOrderNotFound
	}
	if err != nil {
		return Advance{}, err
	}
	adv.From = Status(from)

	if adv.From == to {
		return adv, nil
	}
	if !CanTransition(adv.From, to) {
		return adv, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, adv.From, to)
	}

	if err := tx.QueryRow(ctx,
		`UPDATE orders SET status = $2, updated_at = clock_timestamp() WHERE id::text = $1 RETURNING updated_at`, orderID, string(to),
	).Scan(&adv.UpdatedAt); err != nil {
		return Advance{}, err
	}
	if payment != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE payments SET status = $2 WHERE order_id::text = $1`, orderID, string(payment),
		); err != nil {
			return Advance{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Advance{}, err
	}
	adv.Changed = true
	return adv, nil
}

// DispatchInfo is what the dispatch e-mail needs about an order.
type DispatchInfo struct {
	OrderID      string
	ClientID     string
	TrackingCode string
}

func (r *Repo) DispatchInfo(ctx context.Context, orderID string) (DispatchInfo, error) {
	info := DispatchInfo{OrderID: orderID}
	var tracking *string
	err := r.DB.QueryRow(ctx, `
		SELECT o.client_id::text, d.tracking_code
		FROM orders o LEFT JOIN deliveries d ON d.order_id = o.id
		WHERE o.id::text = $1`, orderID,
	).Scan(&info.ClientID, &tracking)
	if errors.Is(err, pgx.ErrNoRows) {
		return DispatchInfo{}, ErrOrderNotFound
	}
	if err != nil {
		return DispatchInfo{}, err
	}
	if tracking != nil {
		info.TrackingCode = *tracking
	}
	return info, nil
}
