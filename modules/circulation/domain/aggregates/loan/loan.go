package loan

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("loan not found")
	ErrCopyUnavailable = errors.New("copy is not available")
	ErrMemberInactive  = errors.New("member is not active")
	ErrNoOpenLoan      = errors.New("copy has no open loan")
)

// Loan records one circulation of a copy to a member. ReturnedAt is nil
// while the loan is open.
type Loan struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	CopyID       uuid.UUID
	MemberID     uuid.UUID
	CheckedOutAt time.Time
	DueAt        time.Time
	ReturnedAt   *time.Time
}

func (l Loan) Open() bool {
	return l.ReturnedAt == nil
}

type FindParams struct {
	MemberID *uuid.UUID
	CopyID   *uuid.UUID
	OpenOnly bool
	Limit    int
	Offset   int
}

type Repository interface {
	GetPaginated(ctx context.Context, params *FindParams) ([]Loan, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (Loan, error)
	// GetOpenByCopy returns the open loan on the given copy, if any.
	GetOpenByCopy(ctx context.Context, copyID uuid.UUID) (Loan, error)
	Create(ctx context.Context, l Loan) (Loan, error)
	MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) error
}
