package importer

import (
	"fmt"
	"strings"

	"golang.org/x/text/width"

	"github.com/shelfmark/shelfmark/modules/roster/domain/aggregates/member"
)

// OptionalText is a three-way optional: the column may be absent from the
// file (do not touch the field), present but blank (clear the field), or
// present with a value. Collapsing the first two would silently change
// clearing behavior.
type OptionalText struct {
	Present bool   `json:"present"`
	Value   string `json:"value,omitempty"`
}

// Desired returns the value the field should end up with, nil meaning NULL.
func (o OptionalText) Desired() *string {
	if !o.Present {
		return nil
	}
	if o.Value == "" {
		return nil
	}
	v := o.Value
	return &v
}

// NormalizedRow is the validated, database-independent form of one data
// row. Produced once, immutable afterward.
type NormalizedRow struct {
	Row        int            `json:"row"`
	ExternalID string         `json:"external_id"`
	Name       string         `json:"name"`
	Role       member.Role    `json:"role"`
	OrgUnit    OptionalText   `json:"org_unit"`
	Status     *member.Status `json:"status,omitempty"`
}

// Options are the caller-supplied knobs for one import run. Note and
// SourceFilename do not influence the pipeline; they travel into the
// audit record of an apply.
type Options struct {
	// DefaultRole is used only when the role column is absent or the cell
	// is blank.
	DefaultRole    member.Role   `json:"default_role,omitempty"`
	SyncMissing    bool          `json:"sync_missing"`
	SyncRoles      []member.Role `json:"sync_roles,omitempty"`
	Note           string        `json:"note,omitempty"`
	SourceFilename string        `json:"source_filename,omitempty"`
}

// roleSynonyms accepts the spellings real roster exports use for the two
// importable roles.
var roleSynonyms = map[string]member.Role{
	"student": member.RoleStudent,
	"pupil":   member.RoleStudent,
	"s":       member.RoleStudent,
	"學生":      member.RoleStudent,
	"学生":      member.RoleStudent,
	"生":       member.RoleStudent,

	"teacher":    member.RoleTeacher,
	"faculty":    member.RoleTeacher,
	"instructor": member.RoleTeacher,
	"t":          member.RoleTeacher,
	"老師":         member.RoleTeacher,
	"老师":         member.RoleTeacher,
	"教師":         member.RoleTeacher,
	"教师":         member.RoleTeacher,
	"師":          member.RoleTeacher,
}

var statusSynonyms = map[string]member.Status{
	"active":   member.StatusActive,
	"enabled":  member.StatusActive,
	"1":        member.StatusActive,
	"y":        member.StatusActive,
	"在學":       member.StatusActive,
	"在学":       member.StatusActive,
	"在職":       member.StatusActive,
	"在职":       member.StatusActive,
	"inactive": member.StatusInactive,
	"disabled": member.StatusInactive,
	"0":        member.StatusInactive,
	"n":        member.StatusInactive,
	"離校":       member.StatusInactive,
	"离校":       member.StatusInactive,
	"離職":       member.StatusInactive,
	"离职":       member.StatusInactive,
}

func normalizeEnumCell(cell string) string {
	return strings.ToLower(strings.TrimSpace(width.Fold.String(cell)))
}

// ParseRole resolves a role cell against the synonym table.
func ParseRole(cell string) (member.Role, bool) {
	role, ok := roleSynonyms[normalizeEnumCell(cell)]
	return role, ok
}

// ParseStatus resolves a status cell against the synonym table.
func ParseStatus(cell string) (member.Status, bool) {
	status, ok := statusSynonyms[normalizeEnumCell(cell)]
	return status, ok
}

func cellAt(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}

// NormalizeRows validates every data row independently of the database.
// Rows that fail validation are reported and excluded; the rest come back
// normalized. Row numbers are 1-based with the header as row 1.
func NormalizeRows(rows [][]string, cols Columns, opts Options) ([]NormalizedRow, []RowError) {
	normalized := make([]NormalizedRow, 0, len(rows))
	var errs []RowError

	for i, rec := range rows {
		rowNum := i + 2

		if len(rec) != cols.Width {
			errs = append(errs, rowWarn(rowNum, CodeColumnCountMismatch, "",
				fmt.Sprintf("row has %d cells, header has %d", len(rec), cols.Width)))
		}

		row, rowErrs := normalizeRow(rowNum, rec, cols, opts)
		if len(rowErrs) > 0 {
			errs = append(errs, rowErrs...)
			continue
		}
		normalized = append(normalized, row)
	}

	errs = append(errs, markDuplicates(normalized)...)
	normalized = dropDuplicates(normalized)

	return normalized, errs
}

func normalizeRow(rowNum int, rec []string, cols Columns, opts Options) (NormalizedRow, []RowError) {
	row := NormalizedRow{Row: rowNum}

	row.ExternalID = strings.TrimSpace(cellAt(rec, cols.ExternalID))
	if row.ExternalID == "" {
		return row, []RowError{rowErr(rowNum, CodeMissingExternalID, string(FieldExternalID), "external id is required")}
	}
	if len(row.ExternalID) > member.MaxExternalIDLen {
		return row, []RowError{rowErr(rowNum, CodeExternalIDTooLong, string(FieldExternalID),
			fmt.Sprintf("external id exceeds %d characters", member.MaxExternalIDLen))}
	}

	row.Name = strings.TrimSpace(cellAt(rec, cols.Name))
	if row.Name == "" {
		return row, []RowError{rowErr(rowNum, CodeMissingName, string(FieldName), "name is required")}
	}
	if len(row.Name) > member.MaxNameLen {
		return row, []RowError{rowErr(rowNum, CodeNameTooLong, string(FieldName),
			fmt.Sprintf("name exceeds %d characters", member.MaxNameLen))}
	}

	roleCell := strings.TrimSpace(cellAt(rec, cols.Role))
	switch {
	case cols.Has(FieldRole) && roleCell != "":
		role, ok := ParseRole(roleCell)
		if !ok {
			return row, []RowError{rowErr(rowNum, CodeInvalidRole, string(FieldRole),
				fmt.Sprintf("unrecognized role %q", roleCell))}
		}
		row.Role = role
	case opts.DefaultRole != "":
		if !opts.DefaultRole.Importable() {
			return row, []RowError{rowErr(rowNum, CodeInvalidRole, string(FieldRole),
				fmt.Sprintf("default role %q is not importable", opts.DefaultRole))}
		}
		row.Role = opts.DefaultRole
	default:
		return row, []RowError{rowErr(rowNum, CodeInvalidRole, string(FieldRole), "role is missing and no default role was given")}
	}

	if cols.Has(FieldOrgUnit) {
		value := strings.TrimSpace(cellAt(rec, cols.OrgUnit))
		if len(value) > member.MaxOrgUnitLen {
			return row, []RowError{rowErr(rowNum, CodeOrgUnitTooLong, string(FieldOrgUnit),
				fmt.Sprintf("org unit exceeds %d characters", member.MaxOrgUnitLen))}
		}
		// Blank means explicit clear, not "leave untouched".
		row.OrgUnit = OptionalText{Present: true, Value: value}
	}

	if cols.Has(FieldStatus) {
		statusCell := strings.TrimSpace(cellAt(rec, cols.Status))
		if statusCell != "" {
			status, ok := ParseStatus(statusCell)
			if !ok {
				return row, []RowError{rowErr(rowNum, CodeInvalidStatus, string(FieldStatus),
					fmt.Sprintf("unrecognized status %q", statusCell))}
			}
			row.Status = &status
		}
	}

	return row, nil
}

// markDuplicates flags every occurrence of a key that appears more than
// once: the file itself is ambiguous about which row is authoritative, so
// no occurrence can be trusted.
func markDuplicates(rows []NormalizedRow) []RowError {
	firstSeen := make(map[string]int, len(rows))
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		if _, ok := firstSeen[r.ExternalID]; !ok {
			firstSeen[r.ExternalID] = r.Row
		}
		counts[r.ExternalID]++
	}

	var errs []RowError
	for _, r := range rows {
		if counts[r.ExternalID] < 2 {
			continue
		}
		errs = append(errs, rowErr(r.Row, CodeDuplicateExternalID, string(FieldExternalID),
			fmt.Sprintf("external id %q first appears on row %d", r.ExternalID, firstSeen[r.ExternalID])))
	}
	return errs
}

func dropDuplicates(rows []NormalizedRow) []NormalizedRow {
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.ExternalID]++
	}
	kept := rows[:0]
	for _, r := range rows {
		if counts[r.ExternalID] < 2 {
			kept = append(kept, r)
		}
	}
	return kept
}
