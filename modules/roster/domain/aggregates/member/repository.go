package member

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("member not found")
	ErrExternalIDTaken = errors.New("external id already exists")
)

type FindParams struct {
	Q      string
	Role   Role
	Status Status
	Limit  int
	Offset int
}

// UpsertScope records which optional columns the current import carries.
// Name and role are always written; org_unit and status participate only
// when their column was present in the file header.
type UpsertScope struct {
	OrgUnit bool
	Status  bool
}

type Repository interface {
	GetPaginated(ctx context.Context, params *FindParams) ([]Member, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (Member, error)
	GetByExternalID(ctx context.Context, externalID string) (Member, error)
	// GetByExternalIDs batch-loads current records for the given keys in a
	// single query, keyed by external id.
	GetByExternalIDs(ctx context.Context, externalIDs []string) (map[string]Member, error)
	Create(ctx context.Context, m Member) (Member, error)
	Update(ctx context.Context, m Member) (Member, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// BulkUpsert writes one chunk of roster rows in a single statement.
	// The conditional update guard leaves genuinely unchanged rows (and
	// their updated_at) untouched.
	BulkUpsert(ctx context.Context, members []Member, scope UpsertScope) error
	// FindMissingActive returns active members of the given roles whose
	// external id is absent from presentIDs.
	FindMissingActive(ctx context.Context, roles []Role, presentIDs []string) ([]Member, error)
	// DeactivateMissing flips the FindMissingActive set to inactive and
	// reports how many rows changed.
	DeactivateMissing(ctx context.Context, roles []Role, presentIDs []string) (int64, error)
}
