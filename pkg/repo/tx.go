package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx is the minimal query surface repositories need. Both pgx.Tx and
// pgxpool.Pool satisfy it, so repositories run transparently inside or
// outside a transaction depending on what the context carries.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is what the application stores in the request context. *pgxpool.Pool
// satisfies it, as does pgxmock's pool in tests.
type Pool interface {
	Tx
	Begin(ctx context.Context) (pgx.Tx, error)
}

// FormatLimitOffset returns a LIMIT/OFFSET clause, omitting parts that are
// not positive so callers can pass zero values freely.
func FormatLimitOffset(limit, offset int) string {
	if limit > 0 && offset > 0 {
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	}
	if limit > 0 {
		return fmt.Sprintf("LIMIT %d", limit)
	}
	if offset > 0 {
		return fmt.Sprintf("OFFSET %d", offset)
	}
	return ""
}
