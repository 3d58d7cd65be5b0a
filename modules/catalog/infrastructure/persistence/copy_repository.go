package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	"github.com/shelfmark/shelfmark/pkg/composables"
)

const copyColumns = "id, tenant_id, bib_id, barcode, status, created_at, updated_at"

type CopyRepository struct{}

func NewCopyRepository() copy.Repository {
	return &CopyRepository{}
}

func scanCopy(row pgx.Row) (copy.Copy, error) {
	var c copy.Copy
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.BibID,
		&c.Barcode,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, copy.ErrNotFound
	}
	return c, err
}

func (r *CopyRepository) GetByBib(ctx context.Context, bibID uuid.UUID) ([]copy.Copy, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		"SELECT "+copyColumns+" FROM catalog_copies WHERE tenant_id = $1 AND bib_id = $2 ORDER BY barcode",
		tenantID, bibID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var copies []copy.Copy
	for rows.Next() {
		var c copy.Copy
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.BibID, &c.Barcode, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		copies = append(copies, c)
	}
	return copies, rows.Err()
}

func (r *CopyRepository) GetByStatus(ctx context.Context, status copy.Status) ([]copy.Copy, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		"SELECT "+copyColumns+" FROM catalog_copies WHERE tenant_id = $1 AND status = $2 ORDER BY barcode",
		tenantID, status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var copies []copy.Copy
	for rows.Next() {
		var c copy.Copy
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.BibID, &c.Barcode, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		copies = append(copies, c)
	}
	return copies, rows.Err()
}

func (r *CopyRepository) GetByID(ctx context.Context, id uuid.UUID) (copy.Copy, error) {
	return r.getOne(ctx, "id = $2", id, "")
}

func (r *CopyRepository) GetByBarcode(ctx context.Context, barcode string) (copy.Copy, error) {
	return r.getOne(ctx, "barcode = $2", barcode, "")
}

func (r *CopyRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (copy.Copy, error) {
	return r.getOne(ctx, "id = $2", id, " FOR UPDATE")
}

func (r *CopyRepository) getOne(ctx context.Context, cond string, arg interface{}, suffix string) (copy.Copy, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return copy.Copy{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return copy.Copy{}, err
	}
	return scanCopy(tx.QueryRow(ctx,
		"SELECT "+copyColumns+" FROM catalog_copies WHERE tenant_id = $1 AND "+cond+suffix,
		tenantID, arg,
	))
}

func (r *CopyRepository) Create(ctx context.Context, c copy.Copy) (copy.Copy, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return copy.Copy{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return copy.Copy{}, err
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.TenantID = tenantID
	if c.Status == "" {
		c.Status = copy.StatusAvailable
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`INSERT INTO catalog_copies (id, tenant_id, bib_id, barcode, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.TenantID, c.BibID, c.Barcode, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return copy.Copy{}, copy.ErrBarcodeTaken
	}
	if err != nil {
		return copy.Copy{}, err
	}
	return c, nil
}

func (r *CopyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status copy.Status) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		"UPDATE catalog_copies SET status = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2",
		tenantID, id, status, time.Now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return copy.ErrNotFound
	}
	return nil
}

func (r *CopyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		"DELETE FROM catalog_copies WHERE tenant_id = $1 AND id = $2",
		tenantID, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return copy.ErrNotFound
	}
	return nil
}
