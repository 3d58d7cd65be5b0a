package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("inventory session not found")
	ErrSessionClosed  = errors.New("inventory session is closed")
	ErrAlreadyScanned = errors.New("copy already scanned in this session")
)

// Session is one stocktake run over the shelves. Scans accumulate while
// the session is open; closing it freezes the record.
type Session struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Note      string
	StartedAt time.Time
	ClosedAt  *time.Time
}

func (s Session) Open() bool {
	return s.ClosedAt == nil
}

// Scan records that one copy was seen on the shelf during a session.
// A copy counts at most once per session.
type Scan struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	SessionID uuid.UUID
	CopyID    uuid.UUID
	ScannedAt time.Time
}

type FindParams struct {
	Limit  int
	Offset int
}

type Repository interface {
	GetSessions(ctx context.Context, params *FindParams) ([]Session, int64, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error)
	CreateSession(ctx context.Context, s Session) (Session, error)
	// CloseSession fails with ErrSessionClosed when the session is
	// already closed.
	CloseSession(ctx context.Context, id uuid.UUID, closedAt time.Time) error
	CreateScan(ctx context.Context, sc Scan) (Scan, error)
	ScansBySession(ctx context.Context, sessionID uuid.UUID) ([]Scan, error)
}
