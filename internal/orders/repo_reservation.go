package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ariefcatur/storefront-checkout/internal/catalog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrStockUnitMissing  = errors.New("stock unit missing")
)

// StockLine asks for qty units of the product or variation behind Ref.
type StockLine struct {
	Ref catalog.LineRef
	Qty int
}

type StockShortage struct {
	Kind      string `json:"kind"`
	UnitID    string `json:"unit_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s %s: required %d, available %d", s.Kind, s.UnitID, s.Required, s.Available))
	}
	return strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// MissingUnitsError lists stock units that vanished before a restore reached them.
type MissingUnitsError struct {
	Units []StockLine
}

func (e *MissingUnitsError) Error() string {
	parts := make([]string, 0, len(e.Units))
	for _, u := range e.Units {
		parts = append(parts, fmt.Sprintf("%s %s (qty %d)", u.Ref.Kind, u.Ref.UnitID(), u.Qty))
	}
	return "stock units missing on restore: " + strings.Join(parts, ", ")
}

func (e *MissingUnitsError) Is(target error) bool { return target == ErrStockUnitMissing }

type Inventory struct{ DB *pgxpool.Pool }

// Reserve decrements every line in one transaction. Rows are locked FOR UPDATE
// in a stable order; if any line is short nothing is committed.
func (r *Inventory) Reserve(ctx context.Context, lines []StockLine) error {
	units := mergeLines(lines)

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var rejects []StockShortage
	for _, it := range units {
		table, column := unitColumns(it.Ref.Kind)
		var stock int
		err := tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE id::text = $1 FOR UPDATE`, column, table), it.Ref.UnitID(),
		).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			rejects = append(rejects, StockShortage{Kind: it.Ref.Kind.String(), UnitID: it.Ref.UnitID(), Required: it.Qty})
			continue
		}
		if err != nil {
			return err
		}
		if stock < it.Qty {
			rejects = append(rejects, StockShortage{
				Kind: it.Ref.Kind.String(), UnitID: it.Ref.UnitID(), Required: it.Qty, Available: stock,
			})
			continue
		}
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET %s = %s - $2 WHERE id::text = $1`, table, column, column), it.Ref.UnitID(), it.Qty,
		); err != nil {
			return err
		}
	}

	if len(rejects) > 0 {
		return &InsufficientStockError{Shortages: rejects} // rollback via defer
	}
	return tx.Commit(ctx)
}

// Restore re-increments the given lines. Units that still exist are restored
// and committed; vanished ones come back as *MissingUnitsError.
func (r *Inventory) Restore(ctx context.Context, lines []StockLine) error {
	units := mergeLines(lines)

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var missing []StockLine
	for _, it := range units {
		table, column := unitColumns(it.Ref.Kind)
		ct, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET %s = %s + $2 WHERE id::text = $1`, table, column, column), it.Ref.UnitID(), it.Qty,
		)
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			missing = append(missing, it)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if len(missing) > 0 {
		return &MissingUnitsError{Units: missing}
	}
	return nil
}

func unitColumns(kind catalog.RefKind) (table, column string) {
	if kind == catalog.RefVariation {
		return "variations", "stock"
	}
	return "products", "quantity"
}

// mergeLines folds duplicate units together and sorts them so concurrent
// checkouts always lock rows in the same order.
func mergeLines(lines []StockLine) []StockLine {
	idx := make(map[string]int, len(lines))
	out := make([]StockLine, 0, len(lines))
	for _, l := range lines {
		key := l.Ref.Kind.String() + ":" + l.Ref.UnitID()
		if i, ok := idx[key]; ok {
			out[i].Qty += l.Qty
			continue
		}
		idx[key] = len(out)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.Kind != out[j].Ref.Kind {
			return out[i].Ref.Kind < out[j].Ref.Kind
		}
		return out[i].Ref.UnitID() < out[j].Ref.UnitID()
	})
	return out
}

// StockLinesFrom builds reservation lines from resolved catalog lines.
func StockLinesFrom(resolved []catalog.Line) []StockLine {
	out := make([]StockLine, 0, len(resolved))
	for _, l := range resolved {
		out = append(out, StockLine{Ref: l.Ref, Qty: l.Quantity})
	}
	return out
}
