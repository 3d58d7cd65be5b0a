package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shelfmark/shelfmark/modules/audit/domain/entities/auditrecord"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/repo"
)

type AuditRecordRepository struct{}

func NewAuditRecordRepository() auditrecord.Repository {
	return &AuditRecordRepository{}
}

func (r *AuditRecordRepository) List(ctx context.Context, params *auditrecord.FindParams) ([]*auditrecord.AuditRecord, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	where, args := buildAuditFilters(params, tenantID)
	query := `
		SELECT id, tenant_id, actor_id, action, entity, entity_id, content_hash, options, counts, created_at
		FROM audit_records
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC
	`
	if params != nil {
		query += " " + repo.FormatLimitOffset(params.Limit, params.Offset)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*auditrecord.AuditRecord
	for rows.Next() {
		var rec auditrecord.AuditRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.TenantID,
			&rec.ActorID,
			&rec.Action,
			&rec.Entity,
			&rec.EntityID,
			&rec.ContentHash,
			&rec.Options,
			&rec.Counts,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		results = append(results, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *AuditRecordRepository) Count(ctx context.Context, params *auditrecord.FindParams) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}
	where, args := buildAuditFilters(params, tenantID)

	var count int64
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM audit_records
		WHERE `+strings.Join(where, " AND "),
		args...,
	).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *AuditRecordRepository) Create(ctx context.Context, record *auditrecord.AuditRecord) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	if record.TenantID == uuid.Nil {
		record.TenantID = tenantID
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	return tx.QueryRow(
		ctx,
		`INSERT INTO audit_records (id, tenant_id, actor_id, action, entity, entity_id, content_hash, options, counts, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at`,
		record.ID,
		record.TenantID,
		record.ActorID,
		record.Action,
		record.Entity,
		record.EntityID,
		record.ContentHash,
		record.Options,
		record.Counts,
		record.CreatedAt,
	).Scan(&record.ID, &record.CreatedAt)
}

func buildAuditFilters(params *auditrecord.FindParams, tenantID uuid.UUID) ([]string, []interface{}) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argPos := 2
	if params == nil {
		return where, args
	}

	if params.ActorID != nil {
		where = append(where, fmt.Sprintf("actor_id = $%d", argPos))
		args = append(args, *params.ActorID)
		argPos++
	}
	if action := strings.TrimSpace(params.Action); action != "" {
		where = append(where, fmt.Sprintf("action = $%d", argPos))
		args = append(args, action)
		argPos++
	}
	if entity := strings.TrimSpace(params.Entity); entity != "" {
		where = append(where, fmt.Sprintf("entity = $%d", argPos))
		args = append(args, entity)
		argPos++
	}
	if params.From != nil && !params.From.IsZero() {
		where = append(where, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *params.From)
		argPos++
	}
	if params.To != nil && !params.To.IsZero() {
		where = append(where, fmt.Sprintf("created_at <= $%d", argPos))
		args = append(args, *params.To)
	}
	return where, args
}
