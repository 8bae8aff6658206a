// Package workbook reads the header layout of spreadsheet files.
package workbook

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column is one non-empty header cell.
type Column struct {
	Letter string
	Title  string
}

// Header describes the header row that starts at a given cell.
type Header struct {
	Sheet    string
	Row      int
	Columns  []Column
	DataRows int
}

// ReadHeader opens path and reads the header row of the active sheet,
// starting at cell (e.g. "B3"). Columns left of the start cell are ignored.
func ReadHeader(path, cell string) (Header, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Header{}, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	return headerOf(f, cell)
}

func headerOf(f *excelize.File, cell string) (Header, error) {
	startCol, startRow, err := excelize.CellNameToCoordinates(strings.ToUpper(cell))
	if err != nil {
		return Header{}, fmt.Errorf("start cell %q: %w", cell, err)
	}
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		return Header{}, fmt.Errorf("workbook has no active sheet")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return Header{}, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	h := Header{Sheet: sheet, Row: startRow}
	if startRow > len(rows) {
		return h, nil
	}
	headerCells := rows[startRow-1]
	for i := startCol - 1; i < len(headerCells); i++ {
		title := strings.TrimSpace(headerCells[i])
		if title == "" {
			continue
		}
		letter, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return Header{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		h.Columns = append(h.Columns, Column{Letter: letter, Title: title})
	}
	for _, row := range rows[startRow:] {
		if !blank(row) {
			h.DataRows++
		}
	}
	return h, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
