package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-checkout/internal/accounts"
	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/ariefcatur/storefront-checkout/internal/notify"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/shipping"
)

type Pricer interface {
	Resolve(ctx context.Context, reqs []catalog.Request) (catalog.Resolution, error)
}

type Inventory interface {
	Reserve(ctx context.Context, lines []orders.StockLine) error
	Restore(ctx context.Context, lines []orders.StockLine) error
}

type Gateway interface {
	Submit(ctx context.Context, p payment.Payload) (payment.Transaction, error)
}

type OrderWriter interface {
	CreatePlacement(ctx context.Context, p orders.Placement) (orders.Placement, error)
}

type Profiles interface {
	Profile(ctx context.Context, uid string) (accounts.Profile, error)
}

type AdminDirectory interface {
	AdminEmails(ctx context.Context) ([]string, error)
}

type Notifier interface {
	NotifyCustomer(ctx context.Context, to, name string, s notify.Summary) error
	NotifyAdmin(ctx context.Context, to string, s notify.Summary) error
}

const (
	DefaultGatewayTimeout = 20 * time.Second
	compensationTimeout   = 10 * time.Second
	persistTimeout        = 10 * time.Second
)

// Deps are the collaborators of the workflow. Metrics, Tracer, Log and NewID
// are optional.
type Deps struct {
	Catalog        Pricer
	Shipping       shipping.Resolver
	Stock          Inventory
	Payloads       payment.Builder
	Gateway        Gateway
	GatewayTimeout time.Duration
	Orders         OrderWriter
	Profiles       Profiles
	Admins         AdminDirectory
	Notifier       Notifier
	Metrics        *metrics.Checkout
	Tracer         trace.Tracer
	Log            *zap.Logger
	NewID          func() string
}

type Service struct {
	d Deps
}

func NewService(d Deps) *Service {
	if d.GatewayTimeout <= 0 {
		d.GatewayTimeout = DefaultGatewayTimeout
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("storefront/checkout")
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return &Service{d: d}
}

// Checkout places one order. It never returns a partial success: either the
// order with all of its rows exists and Success is set, or stock reserved on
// the way has been restored and Err carries the classified cause.
func (s *Service) Checkout(ctx context.Context, id Identity, req Request) Result {
	start := time.Now()
	ctx, span := s.d.Tracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("payment.method", string(req.Method))))
	defer span.End()

	log := logging.FromContextOr(ctx, s.d.Log).With(zap.String("user_id", id.UserID), zap.String("payment_method", string(req.Method)))
	ctx = logging.ContextWithLogger(ctx, log)

	res := s.run(ctx, id, req)

	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, outcome(res.Err))
		log.Warn("checkout_failed", zap.String("outcome", outcome(res.Err)), zap.Error(res.Err))
	} else {
		span.SetAttributes(attribute.String("order.id", res.OrderID))
		log.Info("checkout_done", zap.String("order_id", res.OrderID), zap.Duration("took", time.Since(start)))
	}
	if m := s.d.Metrics; m != nil {
		m.Requests.WithLabelValues(string(req.Method), outcome(res.Err)).Inc()
		m.Duration.Observe(time.Since(start).Seconds())
	}
	return res
}

func (s *Service) run(ctx context.Context, id Identity, req Request) Result {
	if err := validate(id, req); err != nil {
		return failure(err)
	}

	customer, err := s.customer(ctx, id, req)
	if err != nil {
		return failure(classify(err))
	}

	priced, err := s.price(ctx, req.Items)
	if err != nil {
		return failure(classify(err))
	}

	delivery, gatewayAddr, err := s.delivery(ctx, req.Shipping)
	if err != nil {
		return failure(classify(err))
	}
	total := priced.Subtotal.Add(delivery.Cost)

	orderID := s.d.NewID()
	payload, err := s.d.Payloads.Build(payment.Input{
		OrderID:      orderID,
		Customer:     customer,
		Items:        priced.Lines,
		ShippingCost: delivery.Cost,
		Address:      gatewayAddr,
		Method:       req.Method,
		Card:         req.Card,
	})
	if err != nil {
		return failure(classify(err))
	}

	stock := orders.StockLinesFrom(priced.Lines)
	if err := s.step(ctx, "reserve_stock", func(ctx context.Context) error {
		return s.d.Stock.Reserve(ctx, stock)
	}); err != nil {
		return failure(classify(err))
	}

	// From here on every failure restores stock exactly once.
	tx, err := s.submit(ctx, req.Method, payload)
	if err != nil {
		err = classify(err)
		s.compensate(ctx, stock, err)
		return failure(err)
	}

	installments := 1
	if req.Method == orders.FormCard {
		installments = req.Card.Installments
	}
	placement := orders.Placement{
		Order: orders.Order{
			ID:          orderID,
			ClientID:    id.UserID,
			Status:      orders.InitialStatus(tx.ChargeStatus),
			TotalAmount: total,
		},
		Delivery: delivery,
		Payment: orders.Payment{
			Form:         req.Method,
			Status:       tx.ChargeStatus,
			Value:        total,
			GatewayID:    tx.ID,
			Installments: installments,
			Artifacts:    tx.Artifacts,
		},
		Lines: orders.LinesFrom(orderID, priced.Lines),
	}
	// The gateway holds a charge now; a caller that went away must not
	// leave it without an order.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.step(pctx, "persist_order", func(ctx context.Context) error {
		_, err := s.d.Orders.CreatePlacement(ctx, placement)
		return err
	}); err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
		s.compensate(ctx, stock, err)
		return failure(err)
	}

	s.notify(ctx, req, orderID, total, tx)

	res := Result{Success: true, OrderID: orderID}
	switch req.Method {
	case orders.FormPix:
		res.Pix = &PixArtifacts{QRCode: tx.Artifacts.PixQRCode, QRCodeURL: tx.Artifacts.PixQRCodeURL}
	case orders.FormBoleto:
		res.Boleto = &BoletoArtifacts{URL: tx.Artifacts.BoletoURL, Barcode: tx.Artifacts.BoletoBarcode}
	}
	return res
}

// customer assembles the gateway customer. The phone only comes from the
// stored profile; the document falls back to it when the form left it out.
func (s *Service) customer(ctx context.Context, id Identity, req Request) (payment.Customer, error) {
	p, err := s.d.Profiles.Profile(ctx, id.UserID)
	if errors.Is(err, accounts.ErrNotFound) {
		return payment.Customer{}, invalid("user not authenticated")
	}
	if err != nil {
		return payment.Customer{}, err
	}
	phone, err := payment.ParseMobilePhone(p.Phone)
	if err != nil {
		return payment.Customer{}, invalid("phone missing or invalid in profile")
	}
	doc := req.Customer.Document
	if doc == "" {
		doc = p.Document
	}
	return payment.Customer{
		Name:     req.Customer.Name,
		Email:    req.Customer.Email,
		Document: doc,
		Phone:    phone,
	}, nil
}

func (s *Service) price(ctx context.Context, items []Item) (catalog.Resolution, error) {
	reqs := make([]catalog.Request, 0, len(items))
	for _, it := range items {
		reqs = append(reqs, catalog.Request{Ref: it.Ref, Quantity: it.Quantity, ClaimedName: it.Name})
	}
	var out catalog.Resolution
	err := s.step(ctx, "resolve_prices", func(ctx context.Context) error {
		var err error
		out, err = s.d.Catalog.Resolve(ctx, reqs)
		return err
	})
	return out, err
}

// delivery returns the delivery row to persist and the address handed to the
// gateway, which wants one even for pickup.
func (s *Service) delivery(ctx context.Context, choice ShippingChoice) (orders.Delivery, orders.Address, error) {
	d := orders.Delivery{Status: orders.DeliveryAwaitingConfirmation}
	if choice.Pickup {
		d.Type = orders.DeliveryPickup
		return d, choice.Address, nil
	}

	var q shipping.Quote
	err := s.step(ctx, "resolve_shipping", func(ctx context.Context) error {
		var err error
		q, err = s.d.Shipping.Resolve(ctx, choice.Address.PostalCode)
		return err
	})
	if err != nil {
		return orders.Delivery{}, orders.Address{}, err
	}
	addr := q.Address
	addr.Number = choice.Address.Number
	d.Type = orders.DeliveryShipped
	d.Cost = q.Price
	d.Address = &addr
	return d, addr, nil
}

func (s *Service) submit(ctx context.Context, method orders.PaymentForm, p payment.Payload) (payment.Transaction, error) {
	start := time.Now()
	var tx payment.Transaction
	err := s.step(ctx, "gateway_submit", func(ctx context.Context) error {
		gctx, cancel := context.WithTimeout(ctx, s.d.GatewayTimeout)
		defer cancel()
		var err error
		tx, err = s.d.Gateway.Submit(gctx, p)
		if err != nil && errors.Is(gctx.Err(), context.DeadlineExceeded) && !errors.Is(err, payment.ErrGatewayUnreachable) {
			err = fmt.Errorf("%w: %w", payment.ErrGatewayUnreachable, err)
		}
		return err
	})
	if m := s.d.Metrics; m != nil {
		m.Gateway.WithLabelValues(string(method), outcome(classify(err))).Inc()
		m.GatewayTime.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
	}
	return tx, err
}

// compensate restores reserved stock. It runs detached from the request
// context so a cancelled caller still gets its stock back, and its own
// failure is only logged.
func (s *Service) compensate(ctx context.Context, lines []orders.StockLine, cause error) {
	log := logging.FromContext(ctx)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	err := s.step(cctx, "restore_stock", func(ctx context.Context) error {
		return s.d.Stock.Restore(ctx, lines)
	})
	result := "restored"
	switch {
	case err == nil:
		log.Info("stock_compensated", zap.NamedError("cause", cause))
	case errors.Is(err, orders.ErrStockUnitMissing):
		result = "partial"
		log.Error("stock_compensation_partial", zap.Error(err), zap.NamedError("cause", cause))
	default:
		result = "failed"
		log.Error("stock_compensation_failed", zap.Error(err), zap.NamedError("cause", cause))
	}
	if m := s.d.Metrics; m != nil {
		m.Compensations.WithLabelValues(result).Inc()
	}
}

// notify fans the order-created e-mail out to the buyer and every admin.
// Each send is independent and none of them can fail the checkout.
func (s *Service) notify(ctx context.Context, req Request, orderID string, total decimal.Decimal, tx payment.Transaction) {
	if s.d.Notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	log := logging.FromContext(ctx).With(zap.String("order_id", orderID))

	summary := notify.Summary{
		OrderID:       orderID,
		Total:         total,
		PaymentMethod: string(req.Method),
		PixCode:       tx.Artifacts.PixQRCode,
		BoletoURL:     tx.Artifacts.BoletoURL,
	}
	if err := s.d.Notifier.NotifyCustomer(ctx, req.Customer.Email, req.Customer.Name, summary); err != nil {
		log.Warn("notify_customer_failed", zap.Error(err))
	}

	if s.d.Admins == nil {
		return
	}
	admins, err := s.d.Admins.AdminEmails(ctx)
	if err != nil {
		log.Warn("admin_lookup_failed", zap.Error(err))
		return
	}
	for _, to := range admins {
		if err := s.d.Notifier.NotifyAdmin(ctx, to, summary); err != nil {
			log.Warn("notify_admin_failed", zap.String("to", to), zap.Error(err))
		}
	}
}

// step runs fn inside a child span.
func (s *Service) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.d.Tracer.Start(ctx, name)
	defer span.End()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name)
	}
	return err
}
