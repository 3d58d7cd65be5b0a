package bib

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("bib not found")

// Bib is one bibliographic record; physical holdings hang off it as
// copies.
type Bib struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Title     string
	Author    string
	ISBN      *string
	Publisher *string
	Year      *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type FindParams struct {
	Q      string
	Limit  int
	Offset int
}

// ExportRow is one line of the holdings export: a bib with its copy
// counts.
type ExportRow struct {
	Bib         Bib
	TotalCopies int
	Available   int
}

type Repository interface {
	GetPaginated(ctx context.Context, params *FindParams) ([]Bib, int64, error)
	GetByID(ctx context.Context, id uuid.UUID) (Bib, error)
	Create(ctx context.Context, b Bib) (Bib, error)
	Update(ctx context.Context, b Bib) (Bib, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ExportRows joins bibs with their copy counts for the holdings
	// export, ordered by title.
	ExportRows(ctx context.Context) ([]ExportRow, error)
}
