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
	"github.com/shelfmark/shelfmark/modules/inventory/domain/aggregates/session"
	"github.com/shelfmark/shelfmark/modules/inventory/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/inventory/services"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

var (
	sessionCols = []string{"id", "tenant_id", "note", "started_at", "closed_at"}
	scanCols    = []string{"id", "tenant_id", "session_id", "copy_id", "scanned_at"}
	copyCols    = []string{"id", "tenant_id", "bib_id", "barcode", "status", "created_at", "updated_at"}
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

func setup(t *testing.T) (pgxmock.PgxPoolIface, context.Context, uuid.UUID, *services.InventoryService) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	tenantID := uuid.New()
	ctx := composables.WithPool(context.Background(), mock)
	ctx = composables.WithTenantID(ctx, tenantID)
	ctx = composables.WithActorID(ctx, uuid.New())

	svc := services.NewInventoryService(
		persistence.NewSessionRepository(),
		catalogpersistence.NewCopyRepository(),
		auditservices.NewAuditService(auditpersistence.NewAuditRecordRepository()),
		eventbus.NewEventPublisher(logrus.New()),
	)
	return mock, ctx, tenantID, svc
}

func expectSessionLookup(mock pgxmock.PgxPoolIface, tenantID, sessionID uuid.UUID, closedAt *time.Time) {
	mock.ExpectQuery(`SELECT (.+) FROM inventory_sessions WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(tenantID, sessionID).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow(sessionID, tenantID, "shelf check", time.Now().Add(-time.Hour), closedAt))
}

func expectBarcodeLookup(mock pgxmock.PgxPoolIface, tenantID, copyID uuid.UUID, barcode string, status copy.Status) {
	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM catalog_copies WHERE tenant_id = \$1 AND barcode = \$2`).
		WithArgs(tenantID, barcode).
		WillReturnRows(pgxmock.NewRows(copyCols).
			AddRow(copyID, tenantID, uuid.New(), barcode, status, now, now))
}

func expectAudit(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery(`INSERT INTO audit_records`).
		WithArgs(anyArgs(10)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
}

func TestInventoryService_StartSession(t *testing.T) {
	mock, ctx, _, svc := setup(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO inventory_sessions`).
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectAudit(mock)
	mock.ExpectCommit()

	created, err := svc.StartSession(ctx, "autumn stocktake")
	require.NoError(t, err)
	assert.Equal(t, "autumn stocktake", created.Note)
	assert.True(t, created.Open())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryService_RecordScan(t *testing.T) {
	t.Run("records a scan in an open session", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		sessionID, copyID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		expectSessionLookup(mock, tenantID, sessionID, nil)
		expectBarcodeLookup(mock, tenantID, copyID, "B-0042", copy.StatusAvailable)
		mock.ExpectExec(`INSERT INTO inventory_scans`).
			WithArgs(anyArgs(5)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		expectAudit(mock)
		mock.ExpectCommit()

		scan, err := svc.RecordScan(ctx, sessionID, "B-0042")
		require.NoError(t, err)
		assert.Equal(t, sessionID, scan.SessionID)
		assert.Equal(t, copyID, scan.CopyID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed sessions take no scans", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		sessionID := uuid.New()
		closed := time.Now().Add(-time.Minute)

		mock.ExpectBegin()
		expectSessionLookup(mock, tenantID, sessionID, &closed)
		mock.ExpectRollback()

		_, err := svc.RecordScan(ctx, sessionID, "B-0042")
		require.ErrorIs(t, err, session.ErrSessionClosed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown barcodes are rejected", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		sessionID := uuid.New()

		mock.ExpectBegin()
		expectSessionLookup(mock, tenantID, sessionID, nil)
		mock.ExpectQuery(`SELECT (.+) FROM catalog_copies WHERE tenant_id = \$1 AND barcode = \$2`).
			WithArgs(tenantID, "NOPE").
			WillReturnRows(pgxmock.NewRows(copyCols))
		mock.ExpectRollback()

		_, err := svc.RecordScan(ctx, sessionID, "NOPE")
		require.ErrorIs(t, err, copy.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("a copy counts once per session", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		sessionID, copyID := uuid.New(), uuid.New()

		mock.ExpectBegin()
		expectSessionLookup(mock, tenantID, sessionID, nil)
		expectBarcodeLookup(mock, tenantID, copyID, "B-0042", copy.StatusAvailable)
		mock.ExpectExec(`INSERT INTO inventory_scans`).
			WithArgs(anyArgs(5)...).
			WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()

		_, err := svc.RecordScan(ctx, sessionID, "B-0042")
		require.ErrorIs(t, err, session.ErrAlreadyScanned)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInventoryService_CloseSession(t *testing.T) {
	t.Run("closes an open session", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		sessionID := uuid.New()

		mock.ExpectBegin()
		expectSessionLookup(mock, tenantID, sessionID, nil)
		mock.ExpectExec(`UPDATE inventory_sessions SET closed_at = \$3`).
			WithArgs(tenantID, sessionID, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery(`SELECT (.+) FROM inventory_scans WHERE tenant_id = \$1 AND session_id = \$2`).
			WithArgs(tenantID, sessionID).
			WillReturnRows(pgxmock.NewRows(scanCols).
				AddRow(uuid.New(), tenantID, sessionID, uuid.New(), time.Now()))
		expectAudit(mock)
		mock.ExpectCommit()

		closed, err := svc.CloseSession(ctx, sessionID)
		require.NoError(t, err)
		assert.False(t, closed.Open())
		require.NotNil(t, closed.ClosedAt)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closing twice fails", func(t *testing.T) {
		mock, ctx, tenantID, svc := setup(t)
		sessionID := uuid.New()
		closed := time.Now().Add(-time.Minute)

		mock.ExpectBegin()
		expectSessionLookup(mock, tenantID, sessionID, &closed)
		mock.ExpectExec(`UPDATE inventory_sessions SET closed_at = \$3`).
			WithArgs(tenantID, sessionID, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		_, err := svc.CloseSession(ctx, sessionID)
		require.ErrorIs(t, err, session.ErrSessionClosed)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInventoryService_Report(t *testing.T) {
	mock, ctx, tenantID, svc := setup(t)
	sessionID := uuid.New()
	scannedCopyID, missingCopyID, strayCopyID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	expectSessionLookup(mock, tenantID, sessionID, nil)
	mock.ExpectQuery(`SELECT (.+) FROM inventory_scans WHERE tenant_id = \$1 AND session_id = \$2`).
		WithArgs(tenantID, sessionID).
		WillReturnRows(pgxmock.NewRows(scanCols).
			AddRow(uuid.New(), tenantID, sessionID, scannedCopyID, now).
			AddRow(uuid.New(), tenantID, sessionID, strayCopyID, now))
	mock.ExpectQuery(`SELECT (.+) FROM catalog_copies WHERE tenant_id = \$1 AND status = \$2`).
		WithArgs(tenantID, copy.StatusAvailable).
		WillReturnRows(pgxmock.NewRows(copyCols).
			AddRow(scannedCopyID, tenantID, uuid.New(), "B-0001", copy.StatusAvailable, now, now).
			AddRow(missingCopyID, tenantID, uuid.New(), "B-0002", copy.StatusAvailable, now, now))
	mock.ExpectQuery(`SELECT (.+) FROM catalog_copies WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(tenantID, strayCopyID).
		WillReturnRows(pgxmock.NewRows(copyCols).
			AddRow(strayCopyID, tenantID, uuid.New(), "B-0003", copy.StatusOnLoan, now, now))
	mock.ExpectCommit()

	report, err := svc.Report(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, missingCopyID, report.Missing[0].ID)
	require.Len(t, report.Unexpected, 1)
	assert.Equal(t, strayCopyID, report.Unexpected[0].ID)
	assert.Equal(t, copy.StatusOnLoan, report.Unexpected[0].Status)

	require.NoError(t, mock.ExpectationsWereMet())
}
