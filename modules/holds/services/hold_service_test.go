package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditpersistence "github.com/shelfmark/shelfmark/modules/audit/infrastructure/persistence"
	auditservices "github.com/shelfmark/shelfmark/modules/audit/services"
	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/copy"
	catalogpersistence "github.com/shelfmark/shelfmark/modules/catalog/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/holds/domain/aggregates/hold"
	"github.com/shelfmark/shelfmark/modules/holds/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/holds/services"
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	rosterpersistence "github.com/shelfmark/shelfmark/modules/roster/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

var (
	memberCols = []string{"id", "tenant_id", "external_id", "name", "role", "org_unit", "status", "created_at", "updated_at"}
	bibCols    = []string{"id", "tenant_id", "title", "author", "isbn", "publisher", "year", "created_at", "updated_at"}
	copyCols   = []string{"id", "tenant_id", "bib_id", "barcode", "status", "created_at", "updated_at"}
	holdCols   = []string{"id", "tenant_id", "bib_id", "member_id", "status", "assigned_copy_id", "placed_at", "ready_at", "ready_until", "cancelled_at", "fulfilled_at"}
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

func setup(t *testing.T) (pgxmock.PgxPoolIface, context.Context, uuid.UUID, *services.HoldService) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	tenantID := uuid.New()
	ctx := composables.WithPool(context.Background(), mock)
	ctx = composables.WithTenantID(ctx, tenantID)
	ctx = composables.WithActorID(ctx, uuid.New())

	svc := services.NewHoldService(
		persistence.NewHoldRepository(),
		catalogpersistence.NewBibRepository(),
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

func expectBibLookup(mock pgxmock.PgxPoolIface, tenantID, bibID uuid.UUID) {
	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM catalog_bibs WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(tenantID, bibID).
		WillReturnRows(pgxmock.NewRows(bibCols).
			AddRow(bibID, tenantID, "Dune", "Frank Herbert", (*string)(nil), (*string)(nil), (*int)(nil), now, now))
}

func expectCopyLock(mock pgxmock.PgxPoolIface, tenantID, copyID uuid.UUID, status copy.Status) {
	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM catalog_copies WHERE tenant_id = \$1 AND id = \$2 FOR UPDATE`).
		WithArgs(tenantID, copyID).
		WillReturnRows(pgxmock.NewRows(copyCols).
			AddRow(copyID, tenantID, uuid.New(), "B-0001", status, now, now))
}

func holdRow(rows *pgxmock.Rows, tenantID, holdID, bibID, memberID uuid.UUID, status hold.Status, copyID *uuid.UUID, readyUntil *time.Time) *pgxmock.Rows {
	placed := time.Now().Add(-time.Hour)
	var readyAt *time.Time
	if status == hold.StatusReady {
		t := placed.Add(time.Minute)
		readyAt = &t
	}
	return rows.AddRow(holdID, tenantID, bibID, memberID, status, copyID, placed, readyAt, readyUntil, (*time.Time)(nil), (*time.Time)(nil))
}

func TestHoldService_Place(t *testing.T) {
	t.Run("queues a hold for an active member", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		bibID, memberID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		expectMemberLookup(mock, tenantID, memberID, member.StatusActive)
		expectBibLookup(mock, tenantID, bibID)
		mock.ExpectExec(`INSERT INTO holds`).
			WithArgs(anyArgs(7)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		created, err := svc.Place(ctx, bibID, memberID)
		require.NoError(t, err)
		assert.Equal(t, hold.StatusQueued, created.Status)
		assert.Equal(t, bibID, created.BibID)
		assert.Equal(t, memberID, created.MemberID)
		assert.True(t, created.Active())

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses inactive members", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		bibID, memberID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		expectMemberLookup(mock, tenantID, memberID, member.StatusInactive)
		mock.ExpectRollback()

		_, err := svc.Place(ctx, bibID, memberID)
		require.ErrorIs(t, err, hold.ErrMemberInactive)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("one active hold per member and bib", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		bibID, memberID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		expectMemberLookup(mock, tenantID, memberID, member.StatusActive)
		expectBibLookup(mock, tenantID, bibID)
		mock.ExpectExec(`INSERT INTO holds`).
			WithArgs(anyArgs(7)...).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()

		_, err := svc.Place(ctx, bibID, memberID)
		require.ErrorIs(t, err, hold.ErrActiveHoldExists)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHoldService_Ready(t *testing.T) {
	t.Run("assigns an available copy and parks it", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		holdID, bibID, memberID, copyID := uuid.New(), uuid.New(), uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE tenant_id = \$1 AND id = \$2`).
			WithArgs(tenantID, holdID).
			WillReturnRows(holdRow(pgxmock.NewRows(holdCols), tenantID, holdID, bibID, memberID, hold.StatusQueued, nil, nil))
		expectCopyLock(mock, tenantID, copyID, copy.StatusAvailable)
		mock.ExpectExec(`UPDATE holds SET status = 'ready'`).
			WithArgs(tenantID, holdID, copyID, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`UPDATE catalog_copies SET status = \$3`).
			WithArgs(tenantID, copyID, copy.StatusOnHold, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		ready, err := svc.Ready(ctx, holdID, copyID)
		require.NoError(t, err)
		assert.Equal(t, hold.StatusReady, ready.Status)
		require.NotNil(t, ready.AssignedCopyID)
		assert.Equal(t, copyID, *ready.AssignedCopyID)
		require.NotNil(t, ready.ReadyUntil)
		assert.True(t, ready.ReadyUntil.After(*ready.ReadyAt))

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses copies that are not available", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		holdID, copyID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE tenant_id = \$1 AND id = \$2`).
			WithArgs(tenantID, holdID).
			WillReturnRows(holdRow(pgxmock.NewRows(holdCols), tenantID, holdID, uuid.New(), uuid.New(), hold.StatusQueued, nil, nil))
		expectCopyLock(mock, tenantID, copyID, copy.StatusOnLoan)
		mock.ExpectRollback()

		_, err := svc.Ready(ctx, holdID, copyID)
		require.ErrorIs(t, err, hold.ErrCopyUnavailable)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only queued holds can become ready", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		holdID, copyID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE tenant_id = \$1 AND id = \$2`).
			WithArgs(tenantID, holdID).
			WillReturnRows(holdRow(pgxmock.NewRows(holdCols), tenantID, holdID, uuid.New(), uuid.New(), hold.StatusCancelled, nil, nil))
		expectCopyLock(mock, tenantID, copyID, copy.StatusAvailable)
		mock.ExpectExec(`UPDATE holds SET status = 'ready'`).
			WithArgs(tenantID, holdID, copyID, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		_, err := svc.Ready(ctx, holdID, copyID)
		require.ErrorIs(t, err, hold.ErrNotQueued)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHoldService_Cancel(t *testing.T) {
	t.Run("cancelling a ready hold releases the parked copy", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		holdID, copyID := uuid.New(), uuid.New()
		until := time.Now().Add(24 * time.Hour)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE tenant_id = \$1 AND id = \$2`).
			WithArgs(tenantID, holdID).
			WillReturnRows(holdRow(pgxmock.NewRows(holdCols), tenantID, holdID, uuid.New(), uuid.New(), hold.StatusReady, &copyID, &until))
		mock.ExpectExec(`UPDATE holds SET status = 'cancelled'`).
			WithArgs(tenantID, holdID, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`UPDATE catalog_copies SET status = \$3`).
			WithArgs(tenantID, copyID, copy.StatusAvailable, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		cancelled, err := svc.Cancel(ctx, holdID)
		require.NoError(t, err)
		assert.Equal(t, hold.StatusCancelled, cancelled.Status)
		require.NotNil(t, cancelled.CancelledAt)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("queued holds cancel without touching copies", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		holdID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM holds WHERE tenant_id = \$1 AND id = \$2`).
			WithArgs(tenantID, holdID).
			WillReturnRows(holdRow(pgxmock.NewRows(holdCols), tenantID, holdID, uuid.New(), uuid.New(), hold.StatusQueued, nil, nil))
		mock.ExpectExec(`UPDATE holds SET status = 'cancelled'`).
			WithArgs(tenantID, holdID, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		_, err := svc.Cancel(ctx, holdID)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHoldService_Fulfill(t *testing.T) {
	mock, ctx, tenantID, svc := setup(t)
	holdID, copyID := uuid.New(), uuid.New()
	until := time.Now().Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM holds WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(tenantID, holdID).
		WillReturnRows(holdRow(pgxmock.NewRows(holdCols), tenantID, holdID, uuid.New(), uuid.New(), hold.StatusReady, &copyID, &until))
	mock.ExpectExec(`UPDATE holds SET status = 'fulfilled'`).
		WithArgs(tenantID, holdID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE catalog_copies SET status = \$3`).
		WithArgs(tenantID, copyID, copy.StatusAvailable, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO audit_records`).
		WithArgs(anyArgs(10)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
	mock.ExpectCommit()

	fulfilled, err := svc.Fulfill(ctx, holdID)
	require.NoError(t, err)
	assert.Equal(t, hold.StatusFulfilled, fulfilled.Status)
	require.NotNil(t, fulfilled.FulfilledAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldService_ExpireReady(t *testing.T) {
	t.Run("expires overdue ready holds and releases their copies", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		holdID, copyID := uuid.New(), uuid.New()
		past := time.Now().Add(-24 * time.Hour)

		mock.ExpectBegin()
		expired := pgxmock.NewRows(holdCols)
		holdRow(expired, tenantID, holdID, uuid.New(), uuid.New(), hold.StatusReady, &copyID, &past)
		mock.ExpectQuery(`SELECT (.+) FROM holds\s+WHERE tenant_id = \$1 AND status = 'ready' AND ready_until < \$2`).
			WithArgs(tenantID, pgxmock.AnyArg()).
			WillReturnRows(expired)
		mock.ExpectExec(`UPDATE holds SET status = 'cancelled'`).
			WithArgs(tenantID, holdID, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`UPDATE catalog_copies SET status = \$3`).
			WithArgs(tenantID, copyID, copy.StatusAvailable, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		count, err := svc.ExpireReady(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nothing to expire writes nothing", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM holds\s+WHERE tenant_id = \$1 AND status = 'ready' AND ready_until < \$2`).
			WithArgs(tenantID, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows(holdCols))
		mock.ExpectCommit()

		count, err := svc.ExpireReady(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}
