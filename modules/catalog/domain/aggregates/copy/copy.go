package copy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("copy not found")
	ErrBarcodeTaken = errors.New("barcode already exists")
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusOnLoan    Status = "on_loan"
	StatusOnHold    Status = "on_hold"
	StatusLost      Status = "lost"
	StatusWithdrawn Status = "withdrawn"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusOnLoan, StatusOnHold, StatusLost, StatusWithdrawn:
		return true
	}
	return false
}

// Copy is one physical item of a bib, identified by its barcode within
// the tenant.
type Copy struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	BibID     uuid.UUID
	Barcode   string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Repository interface {
	GetByBib(ctx context.Context, bibID uuid.UUID) ([]Copy, error)
	GetByStatus(ctx context.Context, status Status) ([]Copy, error)
	GetByID(ctx context.Context, id uuid.UUID) (Copy, error)
	GetByBarcode(ctx context.Context, barcode string) (Copy, error)
	// GetByIDForUpdate locks the copy row for the rest of the
	// transaction; circulation uses it to serialize checkouts.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (Copy, error)
	Create(ctx context.Context, c Copy) (Copy, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	Delete(ctx context.Context, id uuid.UUID) error
}
