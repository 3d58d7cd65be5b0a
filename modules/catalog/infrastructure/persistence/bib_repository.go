package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/bib"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/repo"
)

const bibColumns = "id, tenant_id, title, author, isbn, publisher, year, created_at, updated_at"

type BibRepository struct{}

func NewBibRepository() bib.Repository {
	return &BibRepository{}
}

func scanBib(row pgx.Row) (bib.Bib, error) {
	var b bib.Bib
	err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.Title,
		&b.Author,
		&b.ISBN,
		&b.Publisher,
		&b.Year,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, bib.ErrNotFound
	}
	return b, err
}

func (r *BibRepository) GetPaginated(ctx context.Context, params *bib.FindParams) ([]bib.Bib, int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, 0, err
	}

	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	if params != nil {
		if q := strings.TrimSpace(params.Q); q != "" {
			where = append(where, "(title ILIKE $2 OR author ILIKE $2 OR isbn ILIKE $2)")
			args = append(args, "%"+q+"%")
		}
	}

	var total int64
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM catalog_bibs WHERE "+strings.Join(where, " AND "),
		args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + bibColumns + " FROM catalog_bibs WHERE " +
		strings.Join(where, " AND ") + " ORDER BY title"
	if params != nil {
		query += " " + repo.FormatLimitOffset(params.Limit, params.Offset)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var bibs []bib.Bib
	for rows.Next() {
		var b bib.Bib
		if err := rows.Scan(
			&b.ID, &b.TenantID, &b.Title, &b.Author, &b.ISBN, &b.Publisher, &b.Year, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		bibs = append(bibs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return bibs, total, nil
}

func (r *BibRepository) GetByID(ctx context.Context, id uuid.UUID) (bib.Bib, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return bib.Bib{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return bib.Bib{}, err
	}
	return scanBib(tx.QueryRow(ctx,
		"SELECT "+bibColumns+" FROM catalog_bibs WHERE tenant_id = $1 AND id = $2",
		tenantID, id,
	))
}

func (r *BibRepository) Create(ctx context.Context, b bib.Bib) (bib.Bib, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return bib.Bib{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return bib.Bib{}, err
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.TenantID = tenantID
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`INSERT INTO catalog_bibs (id, tenant_id, title, author, isbn, publisher, year, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.TenantID, b.Title, b.Author, b.ISBN, b.Publisher, b.Year, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return bib.Bib{}, err
	}
	return b, nil
}

func (r *BibRepository) Update(ctx context.Context, b bib.Bib) (bib.Bib, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return bib.Bib{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return bib.Bib{}, err
	}

	b.UpdatedAt = time.Now()
	tag, err := tx.Exec(ctx,
		`UPDATE catalog_bibs
		 SET title = $3, author = $4, isbn = $5, publisher = $6, year = $7, updated_at = $8
		 WHERE tenant_id = $1 AND id = $2`,
		tenantID, b.ID, b.Title, b.Author, b.ISBN, b.Publisher, b.Year, b.UpdatedAt,
	)
	if err != nil {
		return bib.Bib{}, err
	}
	if tag.RowsAffected() == 0 {
		return bib.Bib{}, bib.ErrNotFound
	}
	return b, nil
}

func (r *BibRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		"DELETE FROM catalog_bibs WHERE tenant_id = $1 AND id = $2",
		tenantID, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return bib.ErrNotFound
	}
	return nil
}

func (r *BibRepository) ExportRows(ctx context.Context) ([]bib.ExportRow, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT %s,
		        COUNT(c.id) AS total_copies,
		        COUNT(c.id) FILTER (WHERE c.status = 'available') AS available
		 FROM catalog_bibs b
		 LEFT JOIN catalog_copies c ON c.bib_id = b.id
		 WHERE b.tenant_id = $1
		 GROUP BY b.id
		 ORDER BY b.title`,
		prefixColumns("b", bibColumns),
	), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bib.ExportRow
	for rows.Next() {
		var row bib.ExportRow
		if err := rows.Scan(
			&row.Bib.ID, &row.Bib.TenantID, &row.Bib.Title, &row.Bib.Author,
			&row.Bib.ISBN, &row.Bib.Publisher, &row.Bib.Year,
			&row.Bib.CreatedAt, &row.Bib.UpdatedAt,
			&row.TotalCopies, &row.Available,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}
