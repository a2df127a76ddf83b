package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"github.com/shopspring/decimal"
)

var (
	ErrMalformedPostalCode = errors.New("shipping: malformed postal code")
	ErrUnserviceable       = errors.New("shipping: area not served")
	ErrUpstreamUnavailable = errors.New("shipping: postal lookup unavailable")
)

type Quote struct {
	Address orders.Address
	Price   decimal.Decimal
}

type Resolver interface {
	Resolve(ctx context.Context, postalCode string) (Quote, error)
}

// RuleStore prices delivery per neighbourhood. ok is false when no active rule exists.
type RuleStore interface {
	PriceFor(ctx context.Context, neighborhood string) (price decimal.Decimal, ok bool, err error)
}

// NormalizePostalCode strips everything but digits and requires exactly 8.
func NormalizePostalCode(raw string) (string, error) {
	digits := DigitsOnly(raw)
	if len(digits) != 8 {
		return "", fmt.Errorf("%w: %q", ErrMalformedPostalCode, raw)
	}
	return digits, nil
}

func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LookupResolver resolves the address over HTTP and prices it from the rule store.
type LookupResolver struct {
	BaseURL string
	HTTP    *http.Client
	Rules   RuleStore
}

func NewLookupResolver(baseURL string, timeout time.Duration, rules RuleStore) *LookupResolver {
	return &LookupResolver{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Rules:   rules,
	}
}

type lookupResponse struct {
	CEP          string `json:"cep"`
	State        string `json:"state"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood"`
	Street       string `json:"street"`
}

func (r *LookupResolver) Resolve(ctx context.Context, postalCode string) (Quote, error) {
	code, err := NormalizePostalCode(postalCode)
	if err != nil {
		return Quote{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/"+code, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Quote{}, fmt.Errorf("%w: %s does not exist", ErrMalformedPostalCode, code)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Quote{}, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("%w: decode: %w", ErrUpstreamUnavailable, err)
	}

	price, ok, err := r.Rules.PriceFor(ctx, body.Neighborhood)
	if err != nil {
		return Quote{}, fmt.Errorf("shipping rules: %w", err)
	}
	if !ok {
		return Quote{}, fmt.Errorf("%w: neighborhood %q", ErrUnserviceable, body.Neighborhood)
	}

	return Quote{
		Address: orders.Address{
			Street:       body.Street,
			Neighborhood: body.Neighborhood,
			City:         body.City,
			State:        body.State,
			PostalCode:   code,
		},
		Price: price,
	}, nil
}
