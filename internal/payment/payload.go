package payment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPayload     = errors.New("payment: invalid payload")
	ErrGatewayRejected    = errors.New("payment: gateway rejected transaction")
	ErrGatewayUnreachable = errors.New("payment: gateway unreachable")
)

const (
	pixExpiresIn       = 24 * 60 * 60
	boletoDueIn        = 3 * 24 * time.Hour
	boletoInstructions = "Pagar até o vencimento"
	maxDescriptionLen  = 250
)

var hundred = decimal.NewFromInt(100)

// ToMinor converts major units to cents, rounding half away from zero.
func ToMinor(v decimal.Decimal) int64 {
	return v.Mul(hundred).Round(0).IntPart()
}

type Phone struct {
	CountryCode string `json:"country_code"`
	AreaCode    string `json:"area_code"`
	Number      string `json:"number"`
}

// ParseMobilePhone splits a stored phone (at least 10 digits) into the
// country/area/number triple the gateway expects. The country is always 55.
func ParseMobilePhone(raw string) (Phone, error) {
	d := digits(raw)
	if len(d) < 10 {
		return Phone{}, fmt.Errorf("%w: phone needs at least 10 digits", ErrInvalidPayload)
	}
	return Phone{CountryCode: "55", AreaCode: d[:2], Number: d[2:]}, nil
}

// ParseExpiry accepts MM/YY or MM/YYYY and returns a two-digit month and a
// four-digit year.
func ParseExpiry(s string) (month, year string, err error) {
	m, y, ok := strings.Cut(strings.TrimSpace(s), "/")
	m, y = strings.TrimSpace(m), strings.TrimSpace(y)
	if !ok || digits(m) != m || digits(y) != y {
		return "", "", fmt.Errorf("%w: card expiry %q", ErrInvalidPayload, s)
	}
	if len(m) == 1 {
		m = "0" + m
	}
	if len(m) != 2 || m < "01" || m > "12" {
		return "", "", fmt.Errorf("%w: card expiry month %q", ErrInvalidPayload, m)
	}
	switch len(y) {
	case 2:
		y = "20" + y
	case 4:
	default:
		return "", "", fmt.Errorf("%w: card expiry year %q", ErrInvalidPayload, y)
	}
	return m, y, nil
}

type Customer struct {
	Name     string
	Email    string
	Document string
	Phone    Phone
}

type Card struct {
	Number       string
	Holder       string
	Expiry       string
	CVV          string
	Installments int
}

// Input is the normalized order data a transaction is built from.
type Input struct {
	OrderID      string
	Customer     Customer
	Items        []catalog.Line
	ShippingCost decimal.Decimal
	Address      orders.Address
	Method       orders.PaymentForm
	Card         *Card
}

type Payload struct {
	Code     string          `json:"code"`
	Customer customerPayload `json:"customer"`
	Items    []itemPayload   `json:"items"`
	Shipping shippingPayload `json:"shipping"`
	Payments []paymentEntry  `json:"payments"`
}

type customerPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document"`
	Type     string `json:"type"`
	Phones   struct {
		MobilePhone Phone `json:"mobile_phone"`
	} `json:"phones"`
}

type itemPayload struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Code        string `json:"code"`
}

type shippingPayload struct {
	Amount        int64          `json:"amount"`
	Description   string         `json:"description"`
	RecipientName string         `json:"recipient_name"`
	Address       addressPayload `json:"address"`
}

type addressPayload struct {
	Line1   string `json:"line_1"`
	Line2   string `json:"line_2"`
	ZipCode string `json:"zip_code"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

type paymentEntry struct {
	PaymentMethod string         `json:"payment_method"`
	Pix           *pixPayload    `json:"pix,omitempty"`
	CreditCard    *cardPayload   `json:"credit_card,omitempty"`
	Boleto        *boletoPayload `json:"boleto,omitempty"`
}

type pixPayload struct {
	ExpiresIn int `json:"expires_in"`
}

type cardPayload struct {
	Card struct {
		Number     string `json:"number"`
		HolderName string `json:"holder_name"`
		ExpMonth   string `json:"exp_month"`
		ExpYear    string `json:"exp_year"`
		CVV        string `json:"cvv"`
	} `json:"card"`
	Installments        int    `json:"installments"`
	StatementDescriptor string `json:"statement_descriptor"`
}

type boletoPayload struct {
	Instructions string `json:"instructions"`
	DueAt        string `json:"due_at"`
}

// Builder turns an Input into the gateway's order-creation body.
type Builder struct {
	StatementDescriptor string
	ShippingDescription string
	Now                 func() time.Time
}

func (b Builder) Build(in Input) (Payload, error) {
	doc := digits(in.Customer.Document)
	if doc == "" {
		return Payload{}, fmt.Errorf("%w: customer document is required", ErrInvalidPayload)
	}
	zip := digits(in.Address.PostalCode)
	if zip == "" {
		return Payload{}, fmt.Errorf("%w: address postal code is required", ErrInvalidPayload)
	}
	if len(in.Items) == 0 {
		return Payload{}, fmt.Errorf("%w: no items", ErrInvalidPayload)
	}

	p := Payload{Code: in.OrderID}
	p.Customer = customerPayload{
		Name:     in.Customer.Name,
		Email:    in.Customer.Email,
		Document: doc,
		Type:     "individual",
	}
	p.Customer.Phones.MobilePhone = in.Customer.Phone

	p.Items = make([]itemPayload, 0, len(in.Items))
	for _, it := range in.Items {
		p.Items = append(p.Items, itemPayload{
			Amount:      ToMinor(it.UnitPrice),
			Description: truncate(it.Title, maxDescriptionLen),
			Quantity:    it.Quantity,
			Code:        it.Ref.UnitID(),
		})
	}

	a := in.Address
	p.Shipping = shippingPayload{
		Amount:        ToMinor(in.ShippingCost),
		Description:   b.ShippingDescription,
		RecipientName: in.Customer.Name,
		Address: addressPayload{
			Line1:   or(a.Street, "Rua") + ", " + or(a.Number, "S/N"),
			Line2:   or(a.Neighborhood, "Bairro"),
			ZipCode: zip,
			City:    or(a.City, "Cidade"),
			State:   or(a.State, "UF"),
			Country: "BR",
		},
	}

	entry, err := b.paymentEntry(in)
	if err != nil {
		return Payload{}, err
	}
	p.Payments = []paymentEntry{entry}
	return p, nil
}

func (b Builder) paymentEntry(in Input) (paymentEntry, error) {
	switch in.Method {
	case orders.FormPix:
		return paymentEntry{PaymentMethod: "pix", Pix: &pixPayload{ExpiresIn: pixExpiresIn}}, nil

	case orders.FormCard:
		if in.Card == nil {
			return paymentEntry{}, fmt.Errorf("%w: card details are required", ErrInvalidPayload)
		}
		c := in.Card
		number := digits(c.Number)
		if number == "" || strings.TrimSpace(c.Holder) == "" || digits(c.CVV) == "" {
			return paymentEntry{}, fmt.Errorf("%w: card number, holder and cvv are required", ErrInvalidPayload)
		}
		month, year, err := ParseExpiry(c.Expiry)
		if err != nil {
			return paymentEntry{}, err
		}
		inst := c.Installments
		if inst < 0 {
			return paymentEntry{}, fmt.Errorf("%w: installments %d", ErrInvalidPayload, inst)
		}
		if inst == 0 {
			inst = 1
		}
		cp := &cardPayload{Installments: inst, StatementDescriptor: b.StatementDescriptor}
		cp.Card.Number = number
		cp.Card.HolderName = strings.TrimSpace(c.Holder)
		cp.Card.ExpMonth = month
		cp.Card.ExpYear = year
		cp.Card.CVV = digits(c.CVV)
		return paymentEntry{PaymentMethod: "credit_card", CreditCard: cp}, nil

	case orders.FormBoleto:
		now := time.Now
		if b.Now != nil {
			now = b.Now
		}
		return paymentEntry{PaymentMethod: "boleto", Boleto: &boletoPayload{
			Instructions: boletoInstructions,
			DueAt:        now().Add(boletoDueIn).UTC().Format(time.RFC3339),
		}}, nil
	}
	return paymentEntry{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidPayload, in.Method)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
