package importer

import "fmt"

// Severity distinguishes blocking errors from advisory warnings. Warnings
// never block apply.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Structural errors abort the run before any row is processed. They carry
// row number 0 because they are not attributable to a single row.
const (
	CodeCSVEmpty                  = "CSV_EMPTY"
	CodeCSVTooLarge               = "CSV_TOO_LARGE"
	CodeCSVMalformed              = "CSV_MALFORMED"
	CodeCSVHeaderEmpty            = "CSV_HEADER_EMPTY"
	CodeCSVDuplicateHeader        = "CSV_DUPLICATE_HEADER"
	CodeCSVMissingRequiredColumns = "CSV_MISSING_REQUIRED_COLUMNS"
)

// Per-row validation errors. The header counts as row 1, so the first data
// row is row 2.
const (
	CodeColumnCountMismatch = "CSV_COLUMN_COUNT_MISMATCH"
	CodeMissingExternalID   = "MISSING_EXTERNAL_ID"
	CodeExternalIDTooLong   = "EXTERNAL_ID_TOO_LONG"
	CodeMissingName         = "MISSING_NAME"
	CodeNameTooLong         = "NAME_TOO_LONG"
	CodeOrgUnitTooLong      = "ORG_UNIT_TOO_LONG"
	CodeInvalidRole         = "INVALID_ROLE"
	CodeInvalidStatus       = "INVALID_STATUS"
	CodeDuplicateExternalID = "DUPLICATE_EXTERNAL_ID"
)

// State-conflict and batch-policy errors discovered during planning.
const (
	CodeExternalIDReserved           = "EXTERNAL_ID_RESERVED"
	CodeDeactivateRoleNotRepresented = "DEACTIVATE_MISSING_ROLE_NOT_PRESENT"
)

type RowError struct {
	Row      int      `json:"row"`
	Code     string   `json:"code"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (e RowError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e RowError) Blocking() bool {
	return e.Severity != SeverityWarning
}

func rowErr(row int, code, field, message string) RowError {
	return RowError{Row: row, Code: code, Field: field, Message: message, Severity: SeverityError}
}

func rowWarn(row int, code, field, message string) RowError {
	return RowError{Row: row, Code: code, Field: field, Message: message, Severity: SeverityWarning}
}

// HasBlocking reports whether any error in the list would block an apply.
func HasBlocking(errs []RowError) bool {
	for _, e := range errs {
		if e.Blocking() {
			return true
		}
	}
	return false
}
