package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Tokenize turns raw CSV text into a header plus data rows. It is tolerant
// of quoted fields (embedded commas and newlines) and ragged rows; it knows
// nothing about what the columns mean.
//
// A nil error slice means the text was structurally sound. Structural
// problems are reported with row number 0 and abort tokenization.
func Tokenize(text string, maxBytes int) (header []string, rows [][]string, errs []RowError) {
	if maxBytes > 0 && len(text) > maxBytes {
		return nil, nil, []RowError{rowErr(0, CodeCSVTooLarge, "",
			fmt.Sprintf("file is %d bytes, the limit is %d", len(text), maxBytes))}
	}

	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return nil, nil, []RowError{rowErr(0, CodeCSVEmpty, "", "file contains no data")}
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1

	records := make([][]string, 0, 64)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, []RowError{rowErr(0, CodeCSVMalformed, "", err.Error())}
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, nil, []RowError{rowErr(0, CodeCSVEmpty, "", "file contains no data")}
	}

	header = make([]string, len(records[0]))
	blank := true
	for i, cell := range records[0] {
		header[i] = strings.TrimSpace(cell)
		if header[i] != "" {
			blank = false
		}
	}
	if blank {
		return nil, nil, []RowError{rowErr(0, CodeCSVHeaderEmpty, "", "header row is blank")}
	}

	return header, records[1:], nil
}
