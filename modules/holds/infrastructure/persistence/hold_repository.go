package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shelfmark/shelfmark/modules/holds/domain/aggregates/hold"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/repo"
)

const holdColumns = "id, tenant_id, bib_id, member_id, status, assigned_copy_id, placed_at, ready_at, ready_until, cancelled_at, fulfilled_at"

type HoldRepository struct{}

func NewHoldRepository() hold.Repository {
	return &HoldRepository{}
}

func scanHold(row pgx.Row) (hold.Hold, error) {
	var h hold.Hold
	err := row.Scan(
		&h.ID,
		&h.TenantID,
		&h.BibID,
		&h.MemberID,
		&h.Status,
		&h.AssignedCopyID,
		&h.PlacedAt,
		&h.ReadyAt,
		&h.ReadyUntil,
		&h.CancelledAt,
		&h.FulfilledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, hold.ErrNotFound
	}
	return h, err
}

func collectHolds(rows pgx.Rows) ([]hold.Hold, error) {
	defer rows.Close()
	var holds []hold.Hold
	for rows.Next() {
		var h hold.Hold
		if err := rows.Scan(
			&h.ID,
			&h.TenantID,
			&h.BibID,
			&h.MemberID,
			&h.Status,
			&h.AssignedCopyID,
			&h.PlacedAt,
			&h.ReadyAt,
			&h.ReadyUntil,
			&h.CancelledAt,
			&h.FulfilledAt,
		); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func (r *HoldRepository) GetPaginated(ctx context.Context, params *hold.FindParams) ([]hold.Hold, int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildHoldFilters(params, tenantID)

	var total int64
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM holds WHERE "+strings.Join(where, " AND "),
		args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + holdColumns + " FROM holds WHERE " +
		strings.Join(where, " AND ") + " ORDER BY placed_at"
	if params != nil {
		query += " " + repo.FormatLimitOffset(params.Limit, params.Offset)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	holds, err := collectHolds(rows)
	if err != nil {
		return nil, 0, err
	}
	return holds, total, nil
}

func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (hold.Hold, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return hold.Hold{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return hold.Hold{}, err
	}
	return scanHold(tx.QueryRow(ctx,
		"SELECT "+holdColumns+" FROM holds WHERE tenant_id = $1 AND id = $2",
		tenantID, id,
	))
}

func (r *HoldRepository) Create(ctx context.Context, h hold.Hold) (hold.Hold, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return hold.Hold{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return hold.Hold{}, err
	}

	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.TenantID = tenantID
	if h.Status == "" {
		h.Status = hold.StatusQueued
	}
	if h.PlacedAt.IsZero() {
		h.PlacedAt = time.Now()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO holds (id, tenant_id, bib_id, member_id, status, assigned_copy_id, placed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.TenantID, h.BibID, h.MemberID, h.Status, h.AssignedCopyID, h.PlacedAt,
	)
	if isUniqueViolation(err) {
		return hold.Hold{}, hold.ErrActiveHoldExists
	}
	if err != nil {
		return hold.Hold{}, err
	}
	return h, nil
}

func (r *HoldRepository) MarkReady(ctx context.Context, id uuid.UUID, copyID uuid.UUID, readyAt, readyUntil time.Time) error {
	return r.transition(ctx,
		`UPDATE holds SET status = 'ready', assigned_copy_id = $3, ready_at = $4, ready_until = $5
		 WHERE tenant_id = $1 AND id = $2 AND status = 'queued'`,
		hold.ErrNotQueued, id, copyID, readyAt, readyUntil)
}

func (r *HoldRepository) MarkCancelled(ctx context.Context, id uuid.UUID, cancelledAt time.Time) error {
	return r.transition(ctx,
		`UPDATE holds SET status = 'cancelled', cancelled_at = $3
		 WHERE tenant_id = $1 AND id = $2 AND status IN ('queued', 'ready')`,
		hold.ErrNotActive, id, cancelledAt)
}

func (r *HoldRepository) MarkFulfilled(ctx context.Context, id uuid.UUID, fulfilledAt time.Time) error {
	return r.transition(ctx,
		`UPDATE holds SET status = 'fulfilled', fulfilled_at = $3
		 WHERE tenant_id = $1 AND id = $2 AND status = 'ready'`,
		hold.ErrNotReady, id, fulfilledAt)
}

// transition runs a guarded status update; failing the guard maps to
// the given domain error instead of silently affecting zero rows.
func (r *HoldRepository) transition(ctx context.Context, query string, guardErr error, id uuid.UUID, args ...interface{}) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, query, append([]interface{}{tenantID, id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return guardErr
	}
	return nil
}

func (r *HoldRepository) FindExpiredReady(ctx context.Context, cutoff time.Time) ([]hold.Hold, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx,
		`SELECT `+holdColumns+` FROM holds
		 WHERE tenant_id = $1 AND status = 'ready' AND ready_until < $2
		 ORDER BY ready_until`,
		tenantID, cutoff,
	)
	if err != nil {
		return nil, err
	}
	return collectHolds(rows)
}

func buildHoldFilters(params *hold.FindParams, tenantID uuid.UUID) ([]string, []interface{}) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argPos := 2
	if params == nil {
		return where, args
	}

	if params.MemberID != nil {
		where = append(where, fmt.Sprintf("member_id = $%d", argPos))
		args = append(args, *params.MemberID)
		argPos++
	}
	if params.BibID != nil {
		where = append(where, fmt.Sprintf("bib_id = $%d", argPos))
		args = append(args, *params.BibID)
		argPos++
	}
	if params.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(params.Status))
	}
	return where, args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
