package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	products       map[string]Product
	variations     map[string]Variation
	variationCalls atomic.Int32
	err            error
}

func (m *memStore) ProductsByID(_ context.Context, ids []string) (map[string]Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memStore) VariationsByID(_ context.Context, ids []string) (map[string]Variation, error) {
	m.variationCalls.Add(1)
	out := map[string]Variation{}
	for _, id := range ids {
		if v, ok := m.variations[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func newStore() *memStore {
	return &memStore{
		products: map[string]Product{
			"p-shirt": {ID: "p-shirt", Title: "Camiseta Básica", Price: decimal.RequireFromString("50.00"), Quantity: 4, Available: true},
			"p-dress": {ID: "p-dress", Title: "Vestido Longo", Price: decimal.RequireFromString("120.00"), Available: true},
			"p-off":   {ID: "p-off", Title: "Fora de linha", Price: decimal.RequireFromString("10.00"), Available: false},
		},
		variations: map[string]Variation{
			"v-dress-m": {ID: "v-dress-m", ProductID: "p-dress", Price: decimal.RequireFromString("25.00"), Stock: 3, Available: true},
		},
	}
}

func TestResolveUsesCatalogPrices(t *testing.T) {
	r := NewResolver(newStore())

	res, err := r.Resolve(context.Background(), []Request{
		{Ref: ProductRef("p-shirt"), Quantity: 1, ClaimedName: "cheap shirt"},
		{Ref: VariationRef("v-dress-m", "p-dress"), Quantity: 2, ClaimedName: "whatever"},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)

	assert.True(t, res.Lines[0].UnitPrice.Equal(decimal.RequireFromString("50")))
	assert.Equal(t, "Camiseta Básica", res.Lines[0].Title)
	assert.True(t, res.Lines[1].UnitPrice.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, "Vestido Longo", res.Lines[1].Title)
	assert.True(t, res.Subtotal.Equal(decimal.RequireFromString("100")), res.Subtotal.String())
}

func TestResolveSkipsVariationQueryForBareProducts(t *testing.T) {
	st := newStore()
	_, err := NewResolver(st).Resolve(context.Background(), []Request{{Ref: ProductRef("p-shirt"), Quantity: 1}})
	require.NoError(t, err)
	assert.Zero(t, st.variationCalls.Load())
}

func TestResolveNotFound(t *testing.T) {
	cases := map[string]Request{
		"unknown product":     {Ref: ProductRef("nope"), Quantity: 1},
		"unavailable product": {Ref: ProductRef("p-off"), Quantity: 1},
		"unknown variation":   {Ref: VariationRef("v-nope", "p-dress"), Quantity: 1},
		"foreign variation":   {Ref: VariationRef("v-dress-m", "p-shirt"), Quantity: 1},
	}
	for name, rq := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewResolver(newStore()).Resolve(context.Background(), []Request{rq})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestResolveStoreError(t *testing.T) {
	st := newStore()
	st.err = errors.New("connection reset")
	_, err := NewResolver(st).Resolve(context.Background(), []Request{{Ref: ProductRef("p-shirt"), Quantity: 1}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLineRefUnitID(t *testing.T) {
	assert.Equal(t, "p1", ProductRef("p1").UnitID())
	assert.Equal(t, "v1", VariationRef("v1", "p1").UnitID())
	assert.Equal(t, "variation", RefVariation.String())
}
