package services

import (
	"bytes"
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/shelfmark/shelfmark/modules/catalog/domain/aggregates/bib"
)

const exportSheet = "Holdings"

var exportHeader = []string{"Title", "Author", "ISBN", "Publisher", "Year", "Copies", "Available"}

// ExportService renders the tenant's holdings as an XLSX workbook.
type ExportService struct {
	bibs bib.Repository
}

func NewExportService(bibs bib.Repository) *ExportService {
	return &ExportService{bibs: bibs}
}

func (s *ExportService) ExportHoldings(ctx context.Context) ([]byte, error) {
	rows, err := s.bibs.ExportRows(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load export rows")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, err
	}

	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return nil, err
	}

	header := make([]interface{}, len(exportHeader))
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	for i, h := range exportHeader {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []interface{}{
			row.Bib.Title,
			row.Bib.Author,
			deref(row.Bib.ISBN),
			deref(row.Bib.Publisher),
			yearString(row.Bib.Year),
			row.TotalCopies,
			row.Available,
		}
		if err := sw.SetRow(cell, values); err != nil {
			return nil, err
		}
	}

	if err := sw.Flush(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, errors.Wrap(err, "write workbook")
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yearString(y *int) string {
	if y == nil {
		return ""
	}
	return strconv.Itoa(*y)
}
