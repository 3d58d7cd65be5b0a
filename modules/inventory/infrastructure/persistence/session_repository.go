package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shelfmark/shelfmark/modules/inventory/domain/aggregates/session"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/repo"
)

const (
	sessionColumns = "id, tenant_id, note, started_at, closed_at"
	scanColumns    = "id, tenant_id, session_id, copy_id, scanned_at"
)

type SessionRepository struct{}

func NewSessionRepository() session.Repository {
	return &SessionRepository{}
}

func scanSession(row pgx.Row) (session.Session, error) {
	var s session.Session
	err := row.Scan(&s.ID, &s.TenantID, &s.Note, &s.StartedAt, &s.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, session.ErrNotFound
	}
	return s, err
}

func (r *SessionRepository) GetSessions(ctx context.Context, params *session.FindParams) ([]session.Session, int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM inventory_sessions WHERE tenant_id = $1",
		tenantID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + sessionColumns + " FROM inventory_sessions WHERE tenant_id = $1 ORDER BY started_at DESC"
	if params != nil {
		query += " " + repo.FormatLimitOffset(params.Limit, params.Offset)
	}

	rows, err := tx.Query(ctx, query, tenantID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []session.Session
	for rows.Next() {
		var s session.Session
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Note, &s.StartedAt, &s.ClosedAt); err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

func (r *SessionRepository) GetSessionByID(ctx context.Context, id uuid.UUID) (session.Session, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return session.Session{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return session.Session{}, err
	}
	return scanSession(tx.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM inventory_sessions WHERE tenant_id = $1 AND id = $2",
		tenantID, id,
	))
}

func (r *SessionRepository) CreateSession(ctx context.Context, s session.Session) (session.Session, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return session.Session{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return session.Session{}, err
	}

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.TenantID = tenantID
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO inventory_sessions (id, tenant_id, note, started_at)
		 VALUES ($1, $2, $3, $4)`,
		s.ID, s.TenantID, s.Note, s.StartedAt,
	)
	if err != nil {
		return session.Session{}, err
	}
	return s, nil
}

func (r *SessionRepository) CloseSession(ctx context.Context, id uuid.UUID, closedAt time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE inventory_sessions SET closed_at = $3
		 WHERE tenant_id = $1 AND id = $2 AND closed_at IS NULL`,
		tenantID, id, closedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return session.ErrSessionClosed
	}
	return nil
}

func (r *SessionRepository) CreateScan(ctx context.Context, sc session.Scan) (session.Scan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return session.Scan{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return session.Scan{}, err
	}

	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	sc.TenantID = tenantID
	if sc.ScannedAt.IsZero() {
		sc.ScannedAt = time.Now()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO inventory_scans (id, tenant_id, session_id, copy_id, scanned_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sc.ID, sc.TenantID, sc.SessionID, sc.CopyID, sc.ScannedAt,
	)
	if isUniqueViolation(err) {
		return session.Scan{}, session.ErrAlreadyScanned
	}
	if err != nil {
		return session.Scan{}, err
	}
	return sc, nil
}

func (r *SessionRepository) ScansBySession(ctx context.Context, sessionID uuid.UUID) ([]session.Scan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		"SELECT "+scanColumns+" FROM inventory_scans WHERE tenant_id = $1 AND session_id = $2 ORDER BY scanned_at",
		tenantID, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []session.Scan
	for rows.Next() {
		var sc session.Scan
		if err := rows.Scan(&sc.ID, &sc.TenantID, &sc.SessionID, &sc.CopyID, &sc.ScannedAt); err != nil {
			return nil, err
		}
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
