package auditrecord

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is append-only: created exactly once per successful mutation
// batch, never updated or deleted by this application.
type AuditRecord struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	ActorID     uuid.UUID
	Action      string
	Entity      string
	EntityID    *uuid.UUID
	ContentHash string
	Options     json.RawMessage
	Counts      json.RawMessage
	CreatedAt   time.Time
}

type FindParams struct {
	ActorID *uuid.UUID
	Action  string
	Entity  string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

type Repository interface {
	List(ctx context.Context, params *FindParams) ([]*AuditRecord, error)
	Count(ctx context.Context, params *FindParams) (int64, error)
	Create(ctx context.Context, record *AuditRecord) error
}
