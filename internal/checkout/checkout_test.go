package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/storefront-checkout/internal/accounts"
	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/ariefcatur/storefront-checkout/internal/metrics"
	"github.com/ariefcatur/storefront-checkout/internal/notify"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/ariefcatur/storefront-checkout/internal/payment"
	"github.com/ariefcatur/storefront-checkout/internal/shipping"
)

const (
	userID  = "7d6c1a52-0000-4000-8000-000000000001"
	orderID = "0f3e9b21-aaaa-4bbb-8ccc-000000000042"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type catalogStore struct {
	products   map[string]catalog.Product
	variations map[string]catalog.Variation
}

func (c *catalogStore) ProductsByID(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	out := map[string]catalog.Product{}
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (c *catalogStore) VariationsByID(_ context.Context, ids []string) (map[string]catalog.Variation, error) {
	out := map[string]catalog.Variation{}
	for _, id := range ids {
		if v, ok := c.variations[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// stock is an in-memory inventory with the same all-or-nothing contract as orders.Inventory.
type stock struct {
	mu       sync.Mutex
	units    map[string]int
	reserves int
	restores int
}

func (s *stock) Reserve(_ context.Context, lines []orders.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserves++
	var short []orders.StockShortage
	for _, l := range lines {
		if have := s.units[l.Ref.UnitID()]; have < l.Qty {
			short = append(short, orders.StockShortage{Kind: l.Ref.Kind.String(), UnitID: l.Ref.UnitID(), Required: l.Qty, Available: have})
		}
	}
	if len(short) > 0 {
		return &orders.InsufficientStockError{Shortages: short}
	}
	for _, l := range lines {
		s.units[l.Ref.UnitID()] -= l.Qty
	}
	return nil
}

func (s *stock) Restore(_ context.Context, lines []orders.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restores++
	var missing []orders.StockLine
	for _, l := range lines {
		if _, ok := s.units[l.Ref.UnitID()]; !ok {
			missing = append(missing, l)
			continue
		}
		s.units[l.Ref.UnitID()] += l.Qty
	}
	if len(missing) > 0 {
		return &orders.MissingUnitsError{Units: missing}
	}
	return nil
}

func (s *stock) level(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[id]
}

type gatewayFunc func(ctx context.Context, p payment.Payload) (payment.Transaction, error)

func (f gatewayFunc) Submit(ctx context.Context, p payment.Payload) (payment.Transaction, error) {
	return f(ctx, p)
}

type writer struct {
	saved []orders.Placement
	err   error
}

// CreatePlacement fails on a done context the way a pgx call does.
func (w *writer) CreatePlacement(ctx context.Context, p orders.Placement) (orders.Placement, error) {
	if err := ctx.Err(); err != nil {
		return orders.Placement{}, err
	}
	if w.err != nil {
		return orders.Placement{}, w.err
	}
	if err := p.CheckTotal(); err != nil {
		return orders.Placement{}, err
	}
	w.saved = append(w.saved, p)
	return p, nil
}

type shipper struct {
	calls int
	quote shipping.Quote
	err   error
}

func (s *shipper) Resolve(_ context.Context, _ string) (shipping.Quote, error) {
	s.calls++
	return s.quote, s.err
}

type profiles map[string]accounts.Profile

func (p profiles) Profile(_ context.Context, uid string) (accounts.Profile, error) {
	if pr, ok := p[uid]; ok {
		return pr, nil
	}
	return accounts.Profile{}, accounts.ErrNotFound
}

type admins []string

func (a admins) AdminEmails(context.Context) ([]string, error) { return a, nil }

type sent struct {
	to      string
	summary notify.Summary
}

type notifier struct {
	customer []sent
	admin    []sent
	failTo   map[string]bool
}

func (n *notifier) NotifyCustomer(_ context.Context, to, _ string, s notify.Summary) error {
	if n.failTo[to] {
		return errors.New("broker down")
	}
	n.customer = append(n.customer, sent{to, s})
	return nil
}

func (n *notifier) NotifyAdmin(_ context.Context, to string, s notify.Summary) error {
	if n.failTo[to] {
		return errors.New("broker down")
	}
	n.admin = append(n.admin, sent{to, s})
	return nil
}

type harness struct {
	svc      *Service
	stock    *stock
	writer   *writer
	shipper  *shipper
	notifier *notifier
	metrics  *metrics.Checkout
	gateway  gatewayFunc
	payloads []payment.Payload
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		stock:  &stock{units: map[string]int{"p1": 10, "v2": 10, "p3": 3}},
		writer: &writer{},
		shipper: &shipper{quote: shipping.Quote{
			Address: orders.Address{Street: "Av. Beira Mar", Neighborhood: "Meireles", City: "Fortaleza", State: "CE", PostalCode: "60170001"},
			Price:   dec("10.00"),
		}},
		notifier: &notifier{failTo: map[string]bool{}},
		metrics:  metrics.NewCheckout(prometheus.NewRegistry()),
	}
	h.gateway = func(_ context.Context, p payment.Payload) (payment.Transaction, error) {
		return payment.Transaction{
			ID:           "or_1",
			ChargeStatus: orders.PaymentPending,
			Artifacts:    orders.PaymentArtifacts{PixQRCode: "000201pix", PixQRCodeURL: "https://pix/qr.png"},
		}, nil
	}
	store := &catalogStore{
		products: map[string]catalog.Product{
			"p1": {ID: "p1", Title: "Vestido Midi", Price: dec("50.00"), Quantity: 10, Available: true},
			"p2": {ID: "p2", Title: "Blusa Seda", Price: dec("40.00"), Quantity: 0, Available: true},
			"p3": {ID: "p3", Title: "Saia", Price: dec("30.00"), Quantity: 3, Available: true},
		},
		variations: map[string]catalog.Variation{
			"v2": {ID: "v2", ProductID: "p2", Price: dec("25.00"), Stock: 10, Available: true},
		},
	}
	h.svc = NewService(Deps{
		Catalog:  catalog.NewResolver(store),
		Shipping: h.shipper,
		Stock:    h.stock,
		Payloads: payment.Builder{StatementDescriptor: "RAYSTAR LOJA", ShippingDescription: "Entrega Raystar"},
		Gateway: gatewayFunc(func(ctx context.Context, p payment.Payload) (payment.Transaction, error) {
			h.payloads = append(h.payloads, p)
			return h.gateway(ctx, p)
		}),
		GatewayTimeout: time.Second,
		Orders:         h.writer,
		Profiles: profiles{userID: {
			UID: userID, Name: "Ana", Email: "ana@example.com", Document: "123.456.789-09", Phone: "(85) 99999-0000",
		}},
		Admins:   admins{"admin@example.com", "owner@example.com"},
		Notifier: h.notifier,
		Metrics:  h.metrics,
		NewID:    func() string { return orderID },
	})
	return h
}

func pixRequest() Request {
	return Request{
		UserID: userID,
		Items: []Item{
			{Ref: catalog.ProductRef("p1"), Quantity: 1, Name: "Vestido", Price: dec("1.00")},
			{Ref: catalog.VariationRef("v2", "p2"), Quantity: 2, Name: "Blusa", Price: dec("1.00")},
		},
		Shipping: ShippingChoice{Address: orders.Address{PostalCode: "60170-001", Number: "100"}},
		Method:   orders.FormPix,
		Customer: Customer{Name: "Ana Souza", Email: "ana@example.com"},
	}
}

func (h *harness) compensations(outcome string) float64 {
	return testutil.ToFloat64(h.metrics.Compensations.WithLabelValues(outcome))
}

func TestHappyPathPix(t *testing.T) {
	h := newHarness(t)
	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, pixRequest())

	require.True(t, res.Success, res.Message)
	require.NoError(t, res.Err)
	assert.Equal(t, orderID, res.OrderID)
	require.NotNil(t, res.Pix)
	assert.Equal(t, "000201pix", res.Pix.QRCode)
	assert.Nil(t, res.Boleto)

	require.Len(t, h.writer.saved, 1)
	p := h.writer.saved[0]
	assert.True(t, p.Order.TotalAmount.Equal(dec("110.00")), p.Order.TotalAmount.String())
	assert.Equal(t, orders.StatusAwaitingPayment, p.Order.Status)
	assert.Equal(t, orders.FormPix, p.Payment.Form)
	assert.Equal(t, orders.PaymentPending, p.Payment.Status)
	assert.Equal(t, "or_1", p.Payment.GatewayID)
	assert.Equal(t, 1, p.Payment.Installments)
	assert.True(t, p.Delivery.Cost.Equal(dec("10")))
	require.NotNil(t, p.Delivery.Address)
	assert.Equal(t, "100", p.Delivery.Address.Number)
	assert.NoError(t, p.CheckTotal())

	assert.Equal(t, 9, h.stock.level("p1"))
	assert.Equal(t, 8, h.stock.level("v2"))
	assert.Equal(t, 0, h.stock.restores)

	require.Len(t, h.payloads, 1)
	assert.Equal(t, int64(1000), h.payloads[0].Shipping.Amount)
	assert.Equal(t, "12345678909", h.payloads[0].Customer.Document)

	require.Len(t, h.notifier.customer, 1)
	assert.Equal(t, "ana@example.com", h.notifier.customer[0].to)
	assert.True(t, h.notifier.customer[0].summary.Total.Equal(dec("110")))
	assert.Len(t, h.notifier.admin, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Requests.WithLabelValues("pix", "success")))
}

func TestPriceAuthority(t *testing.T) {
	h := newHarness(t)
	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, pixRequest())
	require.True(t, res.Success, res.Message)

	lines := h.writer.saved[0].Lines
	require.Len(t, lines, 2)
	assert.True(t, lines[0].UnitPrice.Equal(dec("50")))
	assert.Equal(t, "Vestido Midi", lines[0].Name)
	assert.Empty(t, lines[0].VariationID)
	assert.True(t, lines[1].UnitPrice.Equal(dec("25")))
	assert.True(t, lines[1].TotalPrice.Equal(dec("50")))
	assert.Equal(t, "v2", lines[1].VariationID)
	assert.Equal(t, "p2", lines[1].ProductID)
}

func TestInsufficientStock(t *testing.T) {
	h := newHarness(t)
	req := pixRequest()
	req.Items = []Item{{Ref: catalog.ProductRef("p3"), Quantity: 5}}

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, req)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrInsufficientStock)
	assert.Contains(t, res.Message, "available 3")
	assert.Equal(t, 3, h.stock.level("p3"))
	assert.Empty(t, h.writer.saved)
	assert.Empty(t, h.payloads)
	assert.Equal(t, 0, h.stock.restores)
}

func TestAllOrNothingReservation(t *testing.T) {
	h := newHarness(t)
	req := pixRequest()
	req.Items = append(req.Items, Item{Ref: catalog.ProductRef("p3"), Quantity: 4})

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, req)
	assert.ErrorIs(t, res.Err, ErrInsufficientStock)
	assert.Equal(t, 10, h.stock.level("p1"))
	assert.Equal(t, 10, h.stock.level("v2"))
	assert.Equal(t, 3, h.stock.level("p3"))
}

func TestGatewayTimeoutRestoresStock(t *testing.T) {
	h := newHarness(t)
	h.svc.d.GatewayTimeout = 30 * time.Millisecond
	h.gateway = func(ctx context.Context, _ payment.Payload) (payment.Transaction, error) {
		<-ctx.Done()
		return payment.Transaction{}, ctx.Err()
	}
	req := pixRequest()
	req.Items = []Item{{Ref: catalog.ProductRef("p1"), Quantity: 2}}

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, req)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrGatewayUnreachable)
	assert.Equal(t, 10, h.stock.level("p1"))
	assert.Equal(t, 1, h.stock.restores)
	assert.Empty(t, h.writer.saved)
	assert.Equal(t, 1.0, h.compensations("restored"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Gateway.WithLabelValues("pix", "gateway_unreachable")))
}

func TestGatewayRejectionCarriesProviderMessage(t *testing.T) {
	h := newHarness(t)
	h.gateway = func(context.Context, payment.Payload) (payment.Transaction, error) {
		return payment.Transaction{}, fmt.Errorf("%w: card declined", payment.ErrGatewayRejected)
	}
	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, pixRequest())
	assert.ErrorIs(t, res.Err, ErrGatewayRejected)
	assert.Contains(t, res.Message, "card declined")
	assert.Equal(t, 10, h.stock.level("p1"))
	assert.Equal(t, 10, h.stock.level("v2"))
	assert.Equal(t, 1, h.stock.restores)
}

func TestPersistenceFailureRestoresStock(t *testing.T) {
	h := newHarness(t)
	h.writer.err = errors.New("connection reset by peer")

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, pixRequest())
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrPersistence)
	assert.NotContains(t, res.Message, "connection reset")
	assert.Equal(t, 10, h.stock.level("p1"))
	assert.Equal(t, 1, h.stock.restores)
	assert.Empty(t, h.notifier.customer)
}

func TestCompensationPartialKeepsOriginalError(t *testing.T) {
	h := newHarness(t)
	h.gateway = func(context.Context, payment.Payload) (payment.Transaction, error) {
		// the variation disappears while the gateway call is in flight
		h.stock.mu.Lock()
		delete(h.stock.units, "v2")
		h.stock.mu.Unlock()
		return payment.Transaction{}, fmt.Errorf("%w: dial tcp: refused", payment.ErrGatewayUnreachable)
	}

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, pixRequest())
	assert.ErrorIs(t, res.Err, ErrGatewayUnreachable)
	assert.NotErrorIs(t, res.Err, orders.ErrStockUnitMissing)
	assert.Equal(t, 10, h.stock.level("p1"))
	assert.Equal(t, 1.0, h.compensations("partial"))
}

func TestPickupSkipsShipping(t *testing.T) {
	h := newHarness(t)
	req := pixRequest()
	req.Shipping = ShippingChoice{Pickup: true, Address: orders.Address{PostalCode: "60170001"}}

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, req)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 0, h.shipper.calls)

	p := h.writer.saved[0]
	assert.Equal(t, orders.DeliveryPickup, p.Delivery.Type)
	assert.True(t, p.Delivery.Cost.IsZero())
	assert.Nil(t, p.Delivery.Address)
	assert.True(t, p.Order.TotalAmount.Equal(dec("100")))
	assert.Equal(t, int64(0), h.payloads[0].Shipping.Amount)
}

func TestPickupWithoutPostalCodeFailsBeforeReservation(t *testing.T) {
	h := newHarness(t)
	req := pixRequest()
	req.Shipping = ShippingChoice{Pickup: true}

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, req)
	assert.ErrorIs(t, res.Err, ErrValidation)
	assert.ErrorIs(t, res.Err, payment.ErrInvalidPayload)
	assert.Equal(t, 0, h.stock.reserves)
}

func TestShippingFailures(t *testing.T) {
	cases := map[string]struct {
		err  error
		want error
	}{
		"unserviceable": {fmt.Errorf("%w: Longe", shipping.ErrUnserviceable), ErrShippingUnavailable},
		"upstream":      {fmt.Errorf("%w: 503", shipping.ErrUpstreamUnavailable), ErrShippingUnavailable},
		"malformed":     {fmt.Errorf("%w: 123", shipping.ErrMalformedPostalCode), ErrValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.shipper.err = tc.err
			res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, pixRequest())
			assert.ErrorIs(t, res.Err, tc.want)
			assert.Equal(t, 0, h.stock.reserves)
		})
	}
}

func TestNotFound(t *testing.T) {
	h := newHarness(t)
	req := pixRequest()
	req.Items = []Item{{Ref: catalog.VariationRef("v2", "p1"), Quantity: 1}}

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, req)
	assert.ErrorIs(t, res.Err, ErrNotFound)
	assert.Equal(t, 0, h.stock.reserves)
}

func TestValidation(t *testing.T) {
	cases := map[string]func(*Request, *Identity){
		"anonymous":      func(_ *Request, id *Identity) { id.UserID = "" },
		"other user":     func(r *Request, _ *Identity) { r.UserID = "someone-else" },
		"empty cart":     func(r *Request, _ *Identity) { r.Items = nil },
		"zero quantity":  func(r *Request, _ *Identity) { r.Items[0].Quantity = 0 },
		"bad method":     func(r *Request, _ *Identity) { r.Method = "cash" },
		"card missing":   func(r *Request, _ *Identity) { r.Method = orders.FormCard },
		"no postal code": func(r *Request, _ *Identity) { r.Shipping.Address.PostalCode = "" },
		"no email":       func(r *Request, _ *Identity) { r.Customer.Email = "" },
		"unknown user":   func(r *Request, id *Identity) { id.UserID, r.UserID = "ghost", "ghost" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			req, id := pixRequest(), Identity{UserID: userID}
			mutate(&req, &id)
			res := h.svc.Checkout(context.Background(), id, req)
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, ErrValidation)
			assert.Equal(t, 0, h.stock.reserves)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Requests.WithLabelValues(string(req.Method), "validation")))
		})
	}
}

func TestMissingPhoneIsValidationError(t *testing.T) {
	h := newHarness(t)
	h.svc.d.Profiles = profiles{userID: {UID: userID, Email: "ana@example.com", Phone: "1234"}}

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, pixRequest())
	assert.ErrorIs(t, res.Err, ErrValidation)
	assert.Contains(t, res.Message, "phone")
}

func TestCardPaidImmediately(t *testing.T) {
	h := newHarness(t)
	h.gateway = func(_ context.Context, p payment.Payload) (payment.Transaction, error) {
		return payment.Transaction{ID: "or_2", ChargeStatus: orders.PaymentPaid}, nil
	}
	req := pixRequest()
	req.Method = orders.FormCard
	req.Card = &payment.Card{Number: "4111 1111 1111 1111", Holder: "ANA SOUZA", Expiry: "08/29", CVV: "123", Installments: 3}

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, req)
	require.True(t, res.Success, res.Message)
	assert.Nil(t, res.Pix)

	p := h.writer.saved[0]
	assert.Equal(t, orders.StatusPaymentConfirmed, p.Order.Status)
	assert.Equal(t, orders.PaymentPaid, p.Payment.Status)
	assert.Equal(t, 3, p.Payment.Installments)
	assert.Equal(t, "2029", h.payloads[0].Payments[0].CreditCard.Card.ExpYear)
}

func TestBoletoArtifacts(t *testing.T) {
	h := newHarness(t)
	h.gateway = func(context.Context, payment.Payload) (payment.Transaction, error) {
		return payment.Transaction{ID: "or_3", ChargeStatus: orders.PaymentPending,
			Artifacts: orders.PaymentArtifacts{BoletoURL: "https://boleto/1.pdf", BoletoBarcode: "2379..."}}, nil
	}
	req := pixRequest()
	req.Method = orders.FormBoleto

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, req)
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Boleto)
	assert.Equal(t, "https://boleto/1.pdf", res.Boleto.URL)
	assert.Equal(t, "2379...", res.Boleto.Barcode)
	assert.Equal(t, "https://boleto/1.pdf", h.notifier.customer[0].summary.BoletoURL)
}

func TestNotificationFailuresDoNotFailCheckout(t *testing.T) {
	h := newHarness(t)
	h.notifier.failTo["ana@example.com"] = true
	h.notifier.failTo["admin@example.com"] = true

	res := h.svc.Checkout(context.Background(), Identity{UserID: userID}, pixRequest())
	require.True(t, res.Success, res.Message)
	require.Len(t, h.notifier.admin, 1)
	assert.Equal(t, "owner@example.com", h.notifier.admin[0].to)
	assert.Equal(t, 0, h.stock.restores)
}

func TestCancelledCallerStillGetsStockBack(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.gateway = func(context.Context, payment.Payload) (payment.Transaction, error) {
		cancel()
		return payment.Transaction{}, fmt.Errorf("%w: %w", payment.ErrGatewayUnreachable, context.Canceled)
	}

	res := h.svc.Checkout(ctx, Identity{UserID: userID}, pixRequest())
	assert.ErrorIs(t, res.Err, ErrGatewayUnreachable)
	assert.Equal(t, 10, h.stock.level("p1"))
	assert.Equal(t, 10, h.stock.level("v2"))
}

func TestCallerGoneAfterChargeStillPlacesOrder(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.gateway = func(context.Context, payment.Payload) (payment.Transaction, error) {
		cancel()
		return payment.Transaction{ID: "or_9", ChargeStatus: orders.PaymentPaid}, nil
	}

	res := h.svc.Checkout(ctx, Identity{UserID: userID}, pixRequest())
	require.True(t, res.Success, res.Message)
	require.Len(t, h.writer.saved, 1)
	assert.Equal(t, orders.StatusPaymentConfirmed, h.writer.saved[0].Order.Status)
	assert.Equal(t, "or_9", h.writer.saved[0].Payment.GatewayID)
	assert.Equal(t, 9, h.stock.level("p1"))
	assert.Equal(t, 0, h.stock.restores)
}
