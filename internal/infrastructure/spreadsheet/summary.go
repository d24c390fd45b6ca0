package spreadsheet

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

type SheetSummary struct {
	Name    string   `json:"name"`
	Rows    int      `json:"rows"`
	Columns int      `json:"columns"`
	Header  []string `json:"header"`
}

// Summarize lists the sheets of an exported workbook. Rows excludes the header row.
func Summarize(data []byte) ([]SheetSummary, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var out []SheetSummary
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", name, err)
		}
		s := SheetSummary{Name: name}
		for i, row := range rows {
			if len(row) > s.Columns {
				s.Columns = len(row)
			}
			if i == 0 {
				s.Header = row
				continue
			}
			s.Rows++
		}
		out = append(out, s)
	}
	return out, nil
}
