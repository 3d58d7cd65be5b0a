package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditpersistence "github.com/shelfmark/shelfmark/modules/audit/infrastructure/persistence"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	catalogpersistence "github.com/shelfmark/shelfmark/modules/catalog/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/circulation/domain/aggregates/loan"
	"github.com/shelfmark/shelfmark/modules/circulation/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/circulation/services"
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	rosterpersistence "github.com/shelfmark/shelfmark/modules/roster/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

var (
	memberCols = []string{"id", "tenant_id", "external_id", "name", "role", "org_unit", "status", "created_at", "updated_at"}
	copyCols   = []string{"id", "tenant_id", "bib_id", "barcode", "status", "created_at", "updated_at"}
	loanCols   = []string{"id", "tenant_id", "copy_id", "member_id", "checked_out_at", "due_at", "returned_at"}
)

// anyArgs builds a WithArgs list for statements whose values are
// generated at call time (fresh uuids, timestamps).
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func setup(t *testing.T) (pgxmock.PgxPoolIface, context.Context, uuid.UUID, *services.CirculationService) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	tenantID := uuid.New()
	ctx := composables.WithPool(context.Background(), mock)
	ctx = composables.WithTenantID(ctx, tenantID)
	ctx = composables.WithActorID(ctx, uuid.New())

	svc := services.NewCirculationService(
		persistence.NewLoanRepository(),
		catalogpersistence.NewCopyRepository(),
		rosterpersistence.NewMemberRepository(),
		auditservices.NewAuditService(auditpersistence.NewAuditRecordRepository()),
		eventbus.NewEventPublisher(logrus.New()),
	)
	return mock, ctx, tenantID, svc
}

func expectMemberLookup(mock pgxmock.PgxPoolIface, tenantID, memberID uuid.UUID, status member.Status) {
	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(tenantID, memberID).
		WillReturnRows(pgxmock.NewRows(memberCols).
			AddRow(memberID, tenantID, "S001", "Alice", member.RoleStudent, (*string)(nil), status, now, now))
}

func expectCopyLock(mock pgxmock.PgxPoolIface, tenantID, copyID uuid.UUID, status copy.Status) {
	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM catalog_copies WHERE tenant_id = \$1 AND id = \$2 FOR UPDATE`).
		WithArgs(tenantID, copyID).
		WillReturnRows(pgxmock.NewRows(copyCols).
			AddRow(copyID, tenantID, uuid.New(), "B-0001", status, now, now))
}

func TestCirculationService_Checkout(t *testing.T) {
	t.Run("lends an available copy to an active member", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		copyID, memberID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		expectMemberLookup(mock, tenantID, memberID, member.StatusActive)
		expectCopyLock(mock, tenantID, copyID, copy.StatusAvailable)
		mock.ExpectExec(`INSERT INTO circulation_loans`).
			WithArgs(anyArgs(7)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`UPDATE catalog_copies SET status = \$3`).
			WithArgs(tenantID, copyID, copy.StatusOnLoan, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		created, err := svc.Checkout(ctx, copyID, memberID)
		require.NoError(t, err)
		assert.Equal(t, copyID, created.CopyID)
		assert.Equal(t, memberID, created.MemberID)
		assert.True(t, created.Open())
		assert.True(t, created.DueAt.After(created.CheckedOutAt))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses inactive members", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		copyID, memberID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		expectMemberLookup(mock, tenantID, memberID, member.StatusInactive)
		mock.ExpectRollback()

		_, err := svc.Checkout(ctx, copyID, memberID)
		require.ErrorIs(t, err, loan.ErrMemberInactive)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses copies that are not available", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		copyID, memberID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		expectMemberLookup(mock, tenantID, memberID, member.StatusActive)
		expectCopyLock(mock, tenantID, copyID, copy.StatusOnLoan)
		mock.ExpectRollback()

		_, err := svc.Checkout(ctx, copyID, memberID)
		require.ErrorIs(t, err, loan.ErrCopyUnavailable)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCirculationService_Checkin(t *testing.T) {
	t.Run("closes the open loan and frees the copy", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		copyID, loanID := uuid.New(), uuid.New()
		now := time.Now()

		mock.ExpectBegin()
		expectCopyLock(mock, tenantID, copyID, copy.StatusOnLoan)
		mock.ExpectQuery(`SELECT (.+) FROM circulation_loans WHERE tenant_id = \$1 AND copy_id = \$2 AND returned_at IS NULL`).
			WithArgs(tenantID, copyID).
			WillReturnRows(pgxmock.NewRows(loanCols).
				AddRow(loanID, tenantID, copyID, uuid.New(), now.Add(-time.Hour), now.Add(27*24*time.Hour), (*time.Time)(nil)))
		mock.ExpectExec(`UPDATE circulation_loans SET returned_at = \$3`).
			WithArgs(tenantID, loanID, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`UPDATE catalog_copies SET status = \$3`).
			WithArgs(tenantID, copyID, copy.StatusAvailable, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		closed, err := svc.Checkin(ctx, copyID)
		require.NoError(t, err)
		assert.False(t, closed.Open())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("copy without an open loan", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		copyID := uuid.New()

		mock.ExpectBegin()
		expectCopyLock(mock, tenantID, copyID, copy.StatusAvailable)
		mock.ExpectQuery(`SELECT (.+) FROM circulation_loans WHERE tenant_id = \$1 AND copy_id = \$2 AND returned_at IS NULL`).
			WithArgs(tenantID, copyID).
			WillReturnRows(pgxmock.NewRows(loanCols))
		mock.ExpectRollback()

		_, err := svc.Checkin(ctx, copyID)
		require.ErrorIs(t, err, loan.ErrNoOpenLoan)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
