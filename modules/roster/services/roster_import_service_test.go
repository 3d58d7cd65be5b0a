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
	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/modules/roster/importer"
	"github.com/shelfmark/shelfmark/modules/roster/infrastructure/persistence"
	"github.com/shelfmark/shelfmark/modules/roster/services"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/configuration"
	"github.com/shelfmark/shelfmark/pkg/eventbus"
)

var memberCols = []string{
	"id", "tenant_id", "external_id", "name", "role", "org_unit", "status", "created_at", "updated_at",
}

func memberRow(rows *pgxmock.Rows, tenantID uuid.UUID, externalID, name string, role member.Role, status member.Status) *pgxmock.Rows {
	now := time.Now()
	return rows.AddRow(uuid.New(), tenantID, externalID, name, role, (*string)(nil), status, now, now)
}

// anyArgs builds a WithArgs list for statements whose values are
// generated at call time (fresh uuids, timestamps, marshalled JSON).
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func importCtx(t *testing.T) (pgxmock.PgxPoolIface, context.Context, uuid.UUID) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	tenantID := uuid.New()
	ctx := composables.WithPool(context.Background(), mock)
	ctx = composables.WithTenantID(ctx, tenantID)
	ctx = composables.WithActorID(ctx, uuid.New())
	return mock, ctx, tenantID
}

func newImportService(publisher eventbus.EventBus, conf configuration.RosterImportOptions) *services.RosterImportService {
	return services.NewRosterImportService(
		persistence.NewMemberRepository(),
		auditservices.NewAuditService(auditpersistence.NewAuditRecordRepository()),
		publisher,
		conf,
	)
}

func setupImport(t *testing.T) (pgxmock.PgxPoolIface, context.Context, uuid.UUID, *services.RosterImportService) {
	t.Helper()
	mock, ctx, tenantID := importCtx(t)
	svc := newImportService(eventbus.NewEventPublisher(logrus.New()), configuration.RosterImportOptions{
		MaxBytes:          1 << 20,
		ChunkSize:         200,
		PreviewSampleSize: 100,
	})
	return mock, ctx, tenantID, svc
}

const sampleCSV = "external_id,name,role\nS001,Alice,student\nS002,Bob,student\nT001,Ms. Chen,teacher\n"

var sampleKeys = []string{"S001", "S002", "T001"}

func TestRosterImportService_Preview(t *testing.T) {
	t.Run("classifies without writing", func(t *testing.T) {
		mock, ctx, tenantID, svc := setupImport(t)

		rows := pgxmock.NewRows(memberCols)
		memberRow(rows, tenantID, "S001", "Alice", member.RoleStudent, member.StatusActive)
		memberRow(rows, tenantID, "S002", "Robert", member.RoleStudent, member.StatusActive)
		mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
			WithArgs(tenantID, sampleKeys).
			WillReturnRows(rows)

		result, err := svc.Preview(ctx, sampleCSV, importer.Options{})
		require.NoError(t, err)

		assert.Equal(t, 3, result.Summary.TotalRows)
		assert.Equal(t, 1, result.Summary.ToCreate)
		assert.Equal(t, 1, result.Summary.ToUpdate)
		assert.Equal(t, 1, result.Summary.Unchanged)
		assert.Equal(t, 0, result.Summary.InvalidRows)
		assert.Equal(t, "preview", result.Mode)
		assert.Equal(t, []string{"external_id", "name", "role"}, result.CSV.Header)
		assert.NotEmpty(t, result.CSV.ContentHash)
		assert.Nil(t, result.AuditID)
		require.Len(t, result.Rows, 3)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports deactivation candidates", func(t *testing.T) {
		mock, ctx, tenantID, svc := setupImport(t)

		mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
			WithArgs(tenantID, sampleKeys).
			WillReturnRows(pgxmock.NewRows(memberCols))

		missing := pgxmock.NewRows(memberCols)
		memberRow(missing, tenantID, "S999", "Ghost", member.RoleStudent, member.StatusActive)
		mock.ExpectQuery(`SELECT (.+) FROM roster_members\s+WHERE tenant_id = \$1 AND status = 'active' AND role = ANY\(\$2\)`).
			WithArgs(tenantID, []string{"student"}, sampleKeys).
			WillReturnRows(missing)

		result, err := svc.Preview(ctx, sampleCSV, importer.Options{
			SyncMissing: true,
			SyncRoles:   []member.Role{member.RoleStudent},
		})
		require.NoError(t, err)

		assert.Equal(t, 1, result.Summary.ToDeactivate)
		require.Len(t, result.Deactivations, 1)
		assert.Equal(t, "S999", result.Deactivations[0].ExternalID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocking errors surface without touching the database beyond the batch load", func(t *testing.T) {
		mock, ctx, tenantID, svc := setupImport(t)

		mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
			WithArgs(tenantID, []string{"S002"}).
			WillReturnRows(pgxmock.NewRows(memberCols))

		result, err := svc.Preview(ctx, "external_id,name,role\nS001,,student\nS002,Bob,student\n", importer.Options{})
		require.NoError(t, err)

		assert.Equal(t, 1, result.Summary.InvalidRows)
		assert.Equal(t, 1, result.Summary.ToCreate)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, importer.CodeMissingName, result.Errors[0].Code)

		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRosterImportService_Apply(t *testing.T) {
	t.Run("commits upsert and audit together", func(t *testing.T) {
		mock, ctx, tenantID, svc := setupImport(t)

		mock.ExpectBegin()
		rows := pgxmock.NewRows(memberCols)
		memberRow(rows, tenantID, "S002", "Robert", member.RoleStudent, member.StatusActive)
		mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
			WithArgs(tenantID, sampleKeys).
			WillReturnRows(rows)
		// two creates and one update: three rows of nine columns each
		mock.ExpectExec(`INSERT INTO roster_members (.+) ON CONFLICT \(tenant_id, external_id\) DO UPDATE`).
			WithArgs(anyArgs(27)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 3))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		result, err := svc.Apply(ctx, sampleCSV, importer.Options{})
		require.NoError(t, err)

		assert.Equal(t, 2, result.Summary.ToCreate)
		assert.Equal(t, 1, result.Summary.ToUpdate)
		assert.Empty(t, result.Errors)
		assert.Empty(t, result.Rows)
		assert.Equal(t, "apply", result.Mode)
		require.NotNil(t, result.AuditID)
		assert.NotEqual(t, uuid.Nil, *result.AuditID)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation errors roll back before any write", func(t *testing.T) {
		mock, ctx, tenantID, svc := setupImport(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
			WithArgs(tenantID, []string{"S002"}).
			WillReturnRows(pgxmock.NewRows(memberCols))
		mock.ExpectRollback()

		_, err := svc.Apply(ctx, "external_id,name,role\nS001,,student\nS002,Bob,student\n", importer.Options{})
		var blocked *services.ImportBlockedError
		require.ErrorAs(t, err, &blocked)
		assert.Equal(t, 1, blocked.Summary.InvalidRows)
		require.Len(t, blocked.Errors, 1)
		assert.Equal(t, importer.CodeMissingName, blocked.Errors[0].Code)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("audit failure rolls back the upsert", func(t *testing.T) {
		mock, ctx, tenantID, svc := setupImport(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
			WithArgs(tenantID, sampleKeys).
			WillReturnRows(pgxmock.NewRows(memberCols))
		mock.ExpectExec(`INSERT INTO roster_members`).
			WithArgs(anyArgs(27)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 3))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		_, err := svc.Apply(ctx, sampleCSV, importer.Options{})
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deactivates missing members inside the same transaction", func(t *testing.T) {
		mock, ctx, tenantID, svc := setupImport(t)
		roles := []string{"student", "teacher"}

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
			WithArgs(tenantID, sampleKeys).
			WillReturnRows(pgxmock.NewRows(memberCols))
		mock.ExpectQuery(`SELECT (.+) FROM roster_members\s+WHERE tenant_id = \$1 AND status = 'active' AND role = ANY\(\$2\)`).
			WithArgs(tenantID, roles, sampleKeys).
			WillReturnRows(pgxmock.NewRows(memberCols))
		mock.ExpectExec(`INSERT INTO roster_members`).
			WithArgs(anyArgs(27)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 3))
		mock.ExpectExec(`UPDATE roster_members\s+SET status = 'inactive'`).
			WithArgs(tenantID, roles, sampleKeys, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 2))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		result, err := svc.Apply(ctx, sampleCSV, importer.Options{
			SyncMissing: true,
			SyncRoles:   []member.Role{member.RoleStudent, member.RoleTeacher},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Summary.ToDeactivate)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("chunking splits large files into bounded statements", func(t *testing.T) {
		mock, ctx, tenantID := importCtx(t)
		small := newImportService(
			eventbus.NewEventPublisher(logrus.New()),
			configuration.RosterImportOptions{MaxBytes: 1 << 20, ChunkSize: 2, PreviewSampleSize: 100},
		)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
			WithArgs(tenantID, sampleKeys).
			WillReturnRows(pgxmock.NewRows(memberCols))
		// three rows with chunk size two means two statements
		mock.ExpectExec(`INSERT INTO roster_members`).
			WithArgs(anyArgs(18)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 2))
		mock.ExpectExec(`INSERT INTO roster_members`).
			WithArgs(anyArgs(9)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectQuery(`INSERT INTO audit_records`).
			WithArgs(anyArgs(10)...).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		mock.ExpectCommit()

		result, err := small.Apply(ctx, sampleCSV, importer.Options{})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Summary.ToCreate)

		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("event goes out only once the transaction commits", func(t *testing.T) {
		conf := configuration.RosterImportOptions{MaxBytes: 1 << 20, ChunkSize: 200, PreviewSampleSize: 100}
		expectApply := func(mock pgxmock.PgxPoolIface, tenantID uuid.UUID) {
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT (.+) FROM roster_members WHERE tenant_id = \$1 AND external_id = ANY\(\$2\)`).
				WithArgs(tenantID, sampleKeys).
				WillReturnRows(pgxmock.NewRows(memberCols))
			mock.ExpectExec(`INSERT INTO roster_members`).
				WithArgs(anyArgs(27)...).
				WillReturnResult(pgxmock.NewResult("INSERT", 3))
			mock.ExpectQuery(`INSERT INTO audit_records`).
				WithArgs(anyArgs(10)...).
				WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
		}

		t.Run("commit failure publishes nothing", func(t *testing.T) {
			mock, ctx, tenantID := importCtx(t)
			publisher := eventbus.NewEventPublisher(logrus.New())
			svc := newImportService(publisher, conf)

			var seen []services.RosterImportAppliedEvent
			publisher.Subscribe(func(e services.RosterImportAppliedEvent) {
				seen = append(seen, e)
			})

			expectApply(mock, tenantID)
			mock.ExpectCommit().WillReturnError(assert.AnError)

			_, err := svc.Apply(ctx, sampleCSV, importer.Options{})
			require.Error(t, err)
			assert.Empty(t, seen)
			require.NoError(t, mock.ExpectationsWereMet())
		})

		t.Run("committed apply publishes once", func(t *testing.T) {
			mock, ctx, tenantID := importCtx(t)
			publisher := eventbus.NewEventPublisher(logrus.New())
			svc := newImportService(publisher, conf)

			var seen []services.RosterImportAppliedEvent
			publisher.Subscribe(func(e services.RosterImportAppliedEvent) {
				seen = append(seen, e)
			})

			expectApply(mock, tenantID)
			mock.ExpectCommit()

			result, err := svc.Apply(ctx, sampleCSV, importer.Options{})
			require.NoError(t, err)
			require.Len(t, seen, 1)
			assert.Equal(t, tenantID, seen[0].TenantID)
			assert.Equal(t, result.CSV.ContentHash, seen[0].ContentHash)
			assert.Equal(t, result.Summary, seen[0].Summary)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	})
}
