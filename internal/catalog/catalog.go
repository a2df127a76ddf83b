package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var ErrNotFound = errors.New("catalog: item not found")

type RefKind int

const (
	RefProduct RefKind = iota + 1
	RefVariation
)

func (k RefKind) String() string {
	switch k {
	case RefProduct:
		return "product"
	case RefVariation:
		return "variation"
	}
	return "unknown"
}

// LineRef says what a cart line points at: a bare product or one of its variations.
type LineRef struct {
	Kind        RefKind
	ProductID   string
	VariationID string
}

func ProductRef(productID string) LineRef {
	return LineRef{Kind: RefProduct, ProductID: productID}
}

func VariationRef(variationID, productID string) LineRef {
	return LineRef{Kind: RefVariation, ProductID: productID, VariationID: variationID}
}

// UnitID is the id of the stock-holding record behind the reference.
func (r LineRef) UnitID() string {
	if r.Kind == RefVariation {
		return r.VariationID
	}
	return r.ProductID
}

func (r LineRef) IsVariation() bool { return r.Kind == RefVariation }

type Product struct {
	ID        string
	Title     string
	Price     decimal.Decimal
	Quantity  int
	Available bool
}

type Variation struct {
	ID        string
	ProductID string
	Price     decimal.Decimal
	Stock     int
	Available bool
}

// Store is the read side of the catalog.
type Store interface {
	ProductsByID(ctx context.Context, ids []string) (map[string]Product, error)
	VariationsByID(ctx context.Context, ids []string) (map[string]Variation, error)
}

// Request is a cart line as submitted by the client. ClaimedName is never trusted.
type Request struct {
	Ref         LineRef
	Quantity    int
	ClaimedName string
}

// Line is a cart line priced from the catalog.
type Line struct {
	Ref       LineRef
	Quantity  int
	Title     string
	UnitPrice decimal.Decimal
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Resolution struct {
	Lines    []Line
	Subtotal decimal.Decimal
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve re-prices every line from the catalog. Product and variation reads
// run concurrently since neither depends on the other.
func (r *Resolver) Resolve(ctx context.Context, reqs []Request) (Resolution, error) {
	productIDs := make([]string, 0, len(reqs))
	variationIDs := make([]string, 0, len(reqs))
	for _, rq := range reqs {
		productIDs = append(productIDs, rq.Ref.ProductID)
		if rq.Ref.IsVariation() {
			variationIDs = append(variationIDs, rq.Ref.VariationID)
		}
	}

	var (
		products   map[string]Product
		variations map[string]Variation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = r.store.ProductsByID(gctx, dedupe(productIDs))
		return err
	})
	if len(variationIDs) > 0 {
		g.Go(func() error {
			var err error
			variations, err = r.store.VariationsByID(gctx, dedupe(variationIDs))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Resolution{}, fmt.Errorf("catalog lookup: %w", err)
	}

	out := Resolution{Lines: make([]Line, 0, len(reqs)), Subtotal: decimal.Zero}
	for _, rq := range reqs {
		product, ok := products[rq.Ref.ProductID]
		if !ok || !product.Available {
			return Resolution{}, fmt.Errorf("%w: product %s", ErrNotFound, rq.Ref.ProductID)
		}
		price := product.Price
		// A variation ref never falls back to the base product's price.
		if rq.Ref.IsVariation() {
			v, ok := variations[rq.Ref.VariationID]
			if !ok || !v.Available || v.ProductID != product.ID {
				return Resolution{}, fmt.Errorf("%w: variation %s of product %s", ErrNotFound, rq.Ref.VariationID, product.ID)
			}
			price = v.Price
		}
		line := Line{
			Ref:       rq.Ref,
			Quantity:  rq.Quantity,
			Title:     product.Title,
			UnitPrice: price,
		}
		out.Lines = append(out.Lines, line)
		out.Subtotal = out.Subtotal.Add(line.Total())
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
