package hold

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("hold not found")
	ErrActiveHoldExists = errors.New("member already has an active hold on this bib")
	ErrMemberInactive   = errors.New("member is not active")
	ErrNotQueued        = errors.New("hold is not queued")
	ErrNotActive        = errors.New("hold is not active")
	ErrNotReady         = errors.New("hold is not ready")
	ErrCopyUnavailable  = errors.New("copy is not available")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusReady     Status = "ready"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusReady, StatusFulfilled, StatusCancelled:
		return true
	}
	return false
}

// Hold reserves a bib for a member. A queued hold waits for a copy; a
// ready hold has one assigned and must be picked up before ReadyUntil.
// At most one queued-or-ready hold exists per member and bib.
type Hold struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	BibID          uuid.UUID
	MemberID       uuid.UUID
	Status         Status
	AssignedCopyID *uuid.UUID
	PlacedAt       time.Time
	ReadyAt        *time.Time
	ReadyUntil     *time.Time
	CancelledAt    *time.Time
	FulfilledAt    *time.Time
}

func (h Hold) Active() bool {
	return h.Status == StatusQueued || h.Status == StatusReady
}

type FindParams struct {
	MemberID *uuid.UUID
	BibID    *uuid.UUID
	Status   Status
	Limit    int
	Offset   int
}

type Repository interface {
	GetPaginated(ctx context.Context, params *FindParams) ([]Hold, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (Hold, error)
	Create(ctx context.Context, h Hold) (Hold, error)
	// MarkReady assigns a copy to a queued hold. The status predicate
	// makes the transition race-safe: zero rows affected means the hold
	// was not queued anymore.
	MarkReady(ctx context.Context, id uuid.UUID, copyID uuid.UUID, readyAt, readyUntil time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID, cancelledAt time.Time) error
	MarkFulfilled(ctx context.Context, id uuid.UUID, fulfilledAt time.Time) error
	// FindExpiredReady returns ready holds whose pickup window closed
	// before the cutoff.
	FindExpiredReady(ctx context.Context, cutoff time.Time) ([]Hold, error)
}
