package shipping

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type RulesRepo struct{ DB *pgxpool.Pool }

func (r *RulesRepo) PriceFor(ctx context.Context, neighborhood string) (decimal.Decimal, bool, error) {
	var price string
	err := r.DB.QueryRow(ctx, `
		SELECT price::text FROM shipping_rules
		WHERE lower(neighborhood) = lower($1) AND active
		LIMIT 1`, neighborhood,
	).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}
