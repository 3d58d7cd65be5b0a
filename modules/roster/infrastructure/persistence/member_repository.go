package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
	"github.com/shelfmark/shelfmark/pkg/composables"
	"github.com/shelfmark/shelfmark/pkg/repo"
)

const memberColumns = "id, tenant_id, external_id, name, role, org_unit, status, created_at, updated_at"

type MemberRepository struct{}

func NewMemberRepository() member.Repository {
	return &MemberRepository{}
}

func scanMember(row pgx.Row) (member.Member, error) {
	var m member.Member
	err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.ExternalID,
		&m.Name,
		&m.Role,
		&m.OrgUnit,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, member.ErrNotFound
	}
	return m, err
}

func collectMembers(rows pgx.Rows) ([]member.Member, error) {
	defer rows.Close()
	var members []member.Member
	for rows.Next() {
		var m member.Member
		if err := rows.Scan(
			&m.ID,
			&m.TenantID,
			&m.ExternalID,
			&m.Name,
			&m.Role,
			&m.OrgUnit,
			&m.Status,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *MemberRepository) GetPaginated(ctx context.Context, params *member.FindParams) ([]member.Member, int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, 0, err
	}

	where, args := buildMemberFilters(params, tenantID)

	var total int64
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM roster_members WHERE "+strings.Join(where, " AND "),
		args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + memberColumns + " FROM roster_members WHERE " +
		strings.Join(where, " AND ") + " ORDER BY external_id"
	if params != nil {
		query += " " + repo.FormatLimitOffset(params.Limit, params.Offset)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	members, err := collectMembers(rows)
	if err != nil {
		return nil, 0, err
	}
	return members, total, nil
}

func (r *MemberRepository) GetByID(ctx context.Context, id uuid.UUID) (member.Member, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return member.Member{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return member.Member{}, err
	}
	return scanMember(tx.QueryRow(ctx,
		"SELECT "+memberColumns+" FROM roster_members WHERE tenant_id = $1 AND id = $2",
		tenantID, id,
	))
}

func (r *MemberRepository) GetByExternalID(ctx context.Context, externalID string) (member.Member, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return member.Member{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return member.Member{}, err
	}
	return scanMember(tx.QueryRow(ctx,
		"SELECT "+memberColumns+" FROM roster_members WHERE tenant_id = $1 AND external_id = $2",
		tenantID, externalID,
	))
}

func (r *MemberRepository) GetByExternalIDs(ctx context.Context, externalIDs []string) (map[string]member.Member, error) {
	result := make(map[string]member.Member, len(externalIDs))
	if len(externalIDs) == 0 {
		return result, nil
	}

	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		"SELECT "+memberColumns+" FROM roster_members WHERE tenant_id = $1 AND external_id = ANY($2)",
		tenantID, externalIDs,
	)
	if err != nil {
		return nil, err
	}
	members, err := collectMembers(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		result[m.ExternalID] = m
	}
	return result, nil
}

func (r *MemberRepository) Create(ctx context.Context, m member.Member) (member.Member, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return member.Member{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return member.Member{}, err
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.TenantID = tenantID
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`INSERT INTO roster_members (id, tenant_id, external_id, name, role, org_unit, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.TenantID, m.ExternalID, m.Name, m.Role, m.OrgUnit, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return member.Member{}, member.ErrExternalIDTaken
	}
	if err != nil {
		return member.Member{}, err
	}
	return m, nil
}

func (r *MemberRepository) Update(ctx context.Context, m member.Member) (member.Member, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return member.Member{}, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return member.Member{}, err
	}

	m.UpdatedAt = time.Now()
	tag, err := tx.Exec(ctx,
		`UPDATE roster_members
		 SET external_id = $3, name = $4, role = $5, org_unit = $6, status = $7, updated_at = $8
		 WHERE tenant_id = $1 AND id = $2`,
		tenantID, m.ID, m.ExternalID, m.Name, m.Role, m.OrgUnit, m.Status, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return member.Member{}, member.ErrExternalIDTaken
	}
	if err != nil {
		return member.Member{}, err
	}
	if tag.RowsAffected() == 0 {
		return member.Member{}, member.ErrNotFound
	}
	return m, nil
}

func (r *MemberRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		"DELETE FROM roster_members WHERE tenant_id = $1 AND id = $2",
		tenantID, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return member.ErrNotFound
	}
	return nil
}

// BulkUpsert writes one chunk in a single multi-row statement. The WHERE
// guard on the conflict branch keeps updated_at stable for rows whose
// stored values already match the incoming ones.
func (r *MemberRepository) BulkUpsert(ctx context.Context, members []member.Member, scope member.UpsertScope) error {
	if len(members) == 0 {
		return nil
	}

	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return err
	}

	const cols = 9
	values := make([]string, 0, len(members))
	args := make([]interface{}, 0, len(members)*cols)
	now := time.Now()

	for i, m := range members {
		base := i * cols
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		id := m.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		status := m.Status
		if status == "" {
			status = member.StatusActive
		}
		args = append(args, id, tenantID, m.ExternalID, m.Name, m.Role, m.OrgUnit, status, now, now)
	}

	setClauses := []string{
		"name = EXCLUDED.name",
		"role = EXCLUDED.role",
	}
	distinctLeft := []string{"roster_members.name", "roster_members.role"}
	distinctRight := []string{"EXCLUDED.name", "EXCLUDED.role"}
	if scope.OrgUnit {
		setClauses = append(setClauses, "org_unit = EXCLUDED.org_unit")
		distinctLeft = append(distinctLeft, "roster_members.org_unit")
		distinctRight = append(distinctRight, "EXCLUDED.org_unit")
	}
	if scope.Status {
		setClauses = append(setClauses, "status = EXCLUDED.status")
		distinctLeft = append(distinctLeft, "roster_members.status")
		distinctRight = append(distinctRight, "EXCLUDED.status")
	}
	setClauses = append(setClauses, "updated_at = EXCLUDED.updated_at")

	query := fmt.Sprintf(
		`INSERT INTO roster_members (id, tenant_id, external_id, name, role, org_unit, status, created_at, updated_at)
		 VALUES %s
		 ON CONFLICT (tenant_id, external_id) DO UPDATE
		 SET %s
		 WHERE (%s) IS DISTINCT FROM (%s)`,
		strings.Join(values, ", "),
		strings.Join(setClauses, ", "),
		strings.Join(distinctLeft, ", "),
		strings.Join(distinctRight, ", "),
	)

	_, err = tx.Exec(ctx, query, args...)
	return err
}

func (r *MemberRepository) FindMissingActive(ctx context.Context, roles []member.Role, presentIDs []string) ([]member.Member, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT `+memberColumns+` FROM roster_members
		 WHERE tenant_id = $1 AND status = 'active' AND role = ANY($2)
		   AND NOT (external_id = ANY($3))
		 ORDER BY external_id`,
		tenantID, roleStrings(roles), presentIDs,
	)
	if err != nil {
		return nil, err
	}
	return collectMembers(rows)
}

func (r *MemberRepository) DeactivateMissing(ctx context.Context, roles []member.Role, presentIDs []string) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE roster_members
		 SET status = 'inactive', updated_at = $4
		 WHERE tenant_id = $1 AND status = 'active' AND role = ANY($2)
		   AND NOT (external_id = ANY($3))`,
		tenantID, roleStrings(roles), presentIDs, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func roleStrings(roles []member.Role) []string {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func buildMemberFilters(params *member.FindParams, tenantID uuid.UUID) ([]string, []interface{}) {
	where := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argPos := 2
	if params == nil {
		return where, args
	}

	if q := strings.TrimSpace(params.Q); q != "" {
		where = append(where, fmt.Sprintf("(external_id ILIKE $%d OR name ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+q+"%")
		argPos++
	}
	if params.Role != "" {
		where = append(where, fmt.Sprintf("role = $%d", argPos))
		args = append(args, string(params.Role))
		argPos++
	}
	if params.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(params.Status))
	}
	return where, args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
