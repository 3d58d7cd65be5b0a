package importer

// Summary is the aggregate outcome of a preview or apply run.
type Summary struct {
	TotalRows    int `json:"total_rows"`
	ValidRows    int `json:"valid_rows"`
	InvalidRows  int `json:"invalid_rows"`
	ToCreate     int `json:"to_create"`
	ToUpdate     int `json:"to_update"`
	Unchanged    int `json:"unchanged"`
	ToDeactivate int `json:"to_deactivate"`
}

// Summarize folds the plan and the error list into counts. totalRows is
// the number of data rows in the file, including ones that never made it
// past validation.
func Summarize(totalRows int, plans []RowPlan, errs []RowError) Summary {
	s := Summary{TotalRows: totalRows}

	invalid := make(map[int]bool)
	for _, e := range errs {
		if e.Blocking() && e.Row > 0 {
			invalid[e.Row] = true
		}
	}

	for _, p := range plans {
		switch p.Action {
		case ActionCreate:
			s.ToCreate++
		case ActionUpdate:
			s.ToUpdate++
		case ActionUnchanged:
			s.Unchanged++
		case ActionInvalid:
			invalid[p.Row.Row] = true
		}
	}

	s.InvalidRows = len(invalid)
	s.ValidRows = s.ToCreate + s.ToUpdate + s.Unchanged
	return s
}
