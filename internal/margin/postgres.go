package margin

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultRuleID is the rule row holding the quote margin.
const DefaultRuleID = "freight_quote"

const selectMarginPct = `
	SELECT margin_pct
	FROM profit_margin_rules
	WHERE id = $1
	LIMIT 1;
`

// Querier is the part of pgxpool.Pool the reader uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresReader reads the margin rule owned by the configuration store.
type PostgresReader struct {
	db     Querier
	ruleID string
}

func NewPostgresReader(db Querier, ruleID string) *PostgresReader {
	if ruleID == "" {
		ruleID = DefaultRuleID
	}
	return &PostgresReader{db: db, ruleID: ruleID}
}

func (r *PostgresReader) MarginPct(ctx context.Context) (float64, error) {
	var pct float64
	err := r.db.QueryRow(ctx, selectMarginPct, r.ruleID).Scan(&pct)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("profit margin rule %q not found: %w", r.ruleID, err)
	}
	if err != nil {
		return 0, fmt.Errorf("query profit margin rule %q: %w", r.ruleID, err)
	}
	if err := Validate(pct); err != nil {
		return 0, fmt.Errorf("profit margin rule %q: %w", r.ruleID, err)
	}
	return pct, nil
}

// Connect builds a pool against databaseURL. The pool dials lazily, so an
// unreachable database surfaces on the first query rather than here.
func Connect(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	poolCfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return pool, nil
}
