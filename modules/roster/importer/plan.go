package importer

import (
	"fmt"

	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
)

type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionUnchanged Action = "unchanged"
	ActionInvalid   Action = "invalid"
)

// RowPlan is the decided outcome for one normalized row, diffed against
// the member currently stored under the same external id.
type RowPlan struct {
	Row     NormalizedRow `json:"row"`
	Action  Action        `json:"action"`
	Changes []Field       `json:"changes,omitempty"`
}

// ValidKeys returns the external ids of every normalized row, for the
// batched existing-state lookup.
func ValidKeys(rows []NormalizedRow) []string {
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.ExternalID)
	}
	return keys
}

// BuildPlan diffs the normalized rows against the existing members keyed
// by external id. Classification happens here, against state loaded
// before any write: the executor never asks the database whether a row
// turned into an insert or an update.
func BuildPlan(rows []NormalizedRow, existing map[string]member.Member) ([]RowPlan, []RowError) {
	plans := make([]RowPlan, 0, len(rows))
	var errs []RowError

	for _, row := range rows {
		current, found := existing[row.ExternalID]
		if found && current.Role == member.RoleStaff {
			errs = append(errs, rowErr(row.Row, CodeExternalIDReserved, string(FieldExternalID),
				fmt.Sprintf("external id %q belongs to a staff account", row.ExternalID)))
			plans = append(plans, RowPlan{Row: row, Action: ActionInvalid})
			continue
		}

		if !found {
			plans = append(plans, RowPlan{Row: row, Action: ActionCreate})
			continue
		}

		changes := diffRow(row, current)
		if len(changes) == 0 {
			plans = append(plans, RowPlan{Row: row, Action: ActionUnchanged})
			continue
		}
		plans = append(plans, RowPlan{Row: row, Action: ActionUpdate, Changes: changes})
	}

	return plans, errs
}

func diffRow(row NormalizedRow, current member.Member) []Field {
	var changes []Field
	if row.Name != current.Name {
		changes = append(changes, FieldName)
	}
	if row.Role != current.Role {
		changes = append(changes, FieldRole)
	}
	if row.OrgUnit.Present && !equalText(row.OrgUnit.Desired(), current.OrgUnit) {
		changes = append(changes, FieldOrgUnit)
	}
	if row.Status != nil && *row.Status != current.Status {
		changes = append(changes, FieldStatus)
	}
	return changes
}

func equalText(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// CheckDeactivationScope guards the sync-missing option: deactivating
// members of a role the file carries no rows for would wipe that role
// wholesale, which is never what a partial export means.
func CheckDeactivationScope(rows []NormalizedRow, opts Options) []RowError {
	if !opts.SyncMissing {
		return nil
	}

	present := make(map[member.Role]bool, 2)
	for _, r := range rows {
		present[r.Role] = true
	}

	var errs []RowError
	for _, role := range opts.SyncRoles {
		if !role.Importable() {
			errs = append(errs, rowErr(0, CodeDeactivateRoleNotRepresented, "",
				fmt.Sprintf("role %q cannot be synchronized", role)))
			continue
		}
		if !present[role] {
			errs = append(errs, rowErr(0, CodeDeactivateRoleNotRepresented, "",
				fmt.Sprintf("file contains no %s rows; refusing to deactivate missing %ss", role, role)))
		}
	}
	return errs
}
