package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shelfmark/shelfmark/modules/circulation/domain/aggregates/loan"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/repo"
)

const loanColumns = "id, tenant_id, copy_id, member_id, checked_out_at, due_at, returned_at"

type LoanRepository struct{}

func NewLoanRepository() loan.Repository {
	return &LoanRepository{}
}

func scanLoan(row pgx.Row) (loan.Loan, error) {
	var l loan.Loan
	err := row.Scan(
		&l.ID,
		&l.TenantID,
		&l.CopyID,
		&l.MemberID,
		&l.CheckedOutAt,
		&l.DueAt,
		&l.ReturnedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return l, loan.ErrNotFound
	}
	return l, err
}

func (r *LoanRepository) GetPaginated(ctx context.Context, params *loan.FindParams) ([]loan.Loan, int64, error) {
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
	argPos := 2
	if params != nil {
		if params.MemberID != nil {
			where = append(where, fmt.Sprintf("member_id = $%d", argPos))
			args = append(args, *params.MemberID)
			argPos++
		}
		if params.CopyID != nil {
			where = append(where, fmt.Sprintf("copy_id = $%d", argPos))
			args = append(args, *params.CopyID)
			argPos++
		}
		if params.OpenOnly {
			where = append(where, "returned_at IS NULL")
		}
	}

	var total int64
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM circulation_loans WHERE "+strings.Join(where, " AND "),
		args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + loanColumns + " FROM circulation_loans WHERE " +
		strings.Join(where, " AND ") + " ORDER BY checked_out_at DESC"
	if params != nil {
		query += " " + repo.FormatLimitOffset(params.Limit, params.Offset)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var loans []loan.Loan
	for rows.Next() {
		var l loan.Loan
		if err := rows.Scan(
			&l.ID, &l.TenantID, &l.CopyID, &l.MemberID, &l.CheckedOutAt, &l.DueAt, &l.ReturnedAt,
		); err != nil {
			return nil, 0, err
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

func (r *LoanRepository) GetByID(ctx context.Context, id uuid.UUID) (loan.Loan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return loan.Loan{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return loan.Loan{}, err
	}
	return scanLoan(tx.QueryRow(ctx,
		"SELECT "+loanColumns+" FROM circulation_loans WHERE tenant_id = $1 AND id = $2",
		tenantID, id,
	))
}

func (r *LoanRepository) GetOpenByCopy(ctx context.Context, copyID uuid.UUID) (loan.Loan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return loan.Loan{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return loan.Loan{}, err
	}
	return scanLoan(tx.QueryRow(ctx,
		"SELECT "+loanColumns+" FROM circulation_loans WHERE tenant_id = $1 AND copy_id = $2 AND returned_at IS NULL",
		tenantID, copyID,
	))
}

func (r *LoanRepository) Create(ctx context.Context, l loan.Loan) (loan.Loan, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return loan.Loan{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return loan.Loan{}, err
	}

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.TenantID = tenantID
	if l.CheckedOutAt.IsZero() {
		l.CheckedOutAt = time.Now()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO circulation_loans (id, tenant_id, copy_id, member_id, checked_out_at, due_at, returned_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.TenantID, l.CopyID, l.MemberID, l.CheckedOutAt, l.DueAt, l.ReturnedAt,
	)
	if err != nil {
		return loan.Loan{}, err
	}
	return l, nil
}

func (r *LoanRepository) MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE circulation_loans SET returned_at = $3
		 WHERE tenant_id = $1 AND id = $2 AND returned_at IS NULL`,
		tenantID, id, returnedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return loan.ErrNotFound
	}
	return nil
}
