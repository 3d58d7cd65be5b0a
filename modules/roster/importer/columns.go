package importer

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/width"
)

// Canonical fields a roster file can carry.
type Field string

const (
	FieldExternalID Field = "external_id"
	FieldName       Field = "name"
	FieldRole       Field = "role"
	FieldOrgUnit    Field = "org_unit"
	FieldStatus     Field = "status"
)

var requiredFields = []Field{FieldExternalID, FieldName}

// headerAliases maps normalized header spellings to canonical fields.
// Exported schools hand us files with English, Traditional Chinese and
// Simplified Chinese headers; all spellings of one field funnel into the
// same slot. The table is immutable after process start.
var headerAliases = map[string]Field{
	"externalid": FieldExternalID,
	"id":         FieldExternalID,
	"studentid":  FieldExternalID,
	"staffid":    FieldExternalID,
	"學號":         FieldExternalID,
	"学号":         FieldExternalID,
	"編號":         FieldExternalID,
	"编号":         FieldExternalID,

	"name":        FieldName,
	"fullname":    FieldName,
	"studentname": FieldName,
	"姓名":          FieldName,
	"名字":          FieldName,

	"role":     FieldRole,
	"type":     FieldRole,
	"category": FieldRole,
	"身分":       FieldRole,
	"身份":       FieldRole,
	"角色":       FieldRole,
	"類別":       FieldRole,
	"类别":       FieldRole,

	"orgunit":  FieldOrgUnit,
	"class":    FieldOrgUnit,
	"homeroom": FieldOrgUnit,
	"group":    FieldOrgUnit,
	"班級":       FieldOrgUnit,
	"班级":       FieldOrgUnit,

	"status": FieldStatus,
	"state":  FieldStatus,
	"狀態":     FieldStatus,
	"状态":     FieldStatus,
}

// Columns maps canonical fields to their column index; -1 means the file
// does not carry the field at all (distinct from carrying it blank).
type Columns struct {
	ExternalID int
	Name       int
	Role       int
	OrgUnit    int
	Status     int
	// Width is the header width rows are checked against.
	Width int
}

func (c Columns) Index(f Field) int {
	switch f {
	case FieldExternalID:
		return c.ExternalID
	case FieldName:
		return c.Name
	case FieldRole:
		return c.Role
	case FieldOrgUnit:
		return c.OrgUnit
	case FieldStatus:
		return c.Status
	}
	return -1
}

func (c Columns) Has(f Field) bool {
	return c.Index(f) >= 0
}

// normalizeHeaderCell folds full-width characters to their half-width
// forms, lowercases, and strips whitespace, underscores and hyphens, so
// "External_ID", "external-id" and "ｅｘｔｅｒｎａｌ ｉｄ" all resolve alike.
func normalizeHeaderCell(cell string) string {
	folded := width.Fold.String(cell)
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '_', '-':
			return -1
		}
		return r
	}, folded)
}

// ResolveColumns maps a header row to canonical field slots. Two header
// cells resolving to the same field is an error: picking one silently
// would make the import depend on column order.
func ResolveColumns(header []string) (Columns, []RowError) {
	cols := Columns{ExternalID: -1, Name: -1, Role: -1, OrgUnit: -1, Status: -1, Width: len(header)}
	seen := make(map[Field]int, len(header))

	var errs []RowError
	for i, cell := range header {
		normalized := normalizeHeaderCell(cell)
		if normalized == "" {
			continue
		}
		field, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if prev, dup := seen[field]; dup {
			errs = append(errs, rowErr(0, CodeCSVDuplicateHeader, string(field),
				fmt.Sprintf("columns %d and %d both map to %s", prev+1, i+1, field)))
			continue
		}
		seen[field] = i
		switch field {
		case FieldExternalID:
			cols.ExternalID = i
		case FieldName:
			cols.Name = i
		case FieldRole:
			cols.Role = i
		case FieldOrgUnit:
			cols.OrgUnit = i
		case FieldStatus:
			cols.Status = i
		}
	}
	if len(errs) > 0 {
		return cols, errs
	}

	var missing []string
	for _, f := range requiredFields {
		if !cols.Has(f) {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		errs = append(errs, rowErr(0, CodeCSVMissingRequiredColumns, "",
			"missing required columns: "+strings.Join(missing, ", ")))
	}

	return cols, errs
}
