// Package tabular loads spreadsheet sheets into ordered rows of typed cells.
//
// Every cell is text, a number, empty, or missing. Missing means the column
// does not exist for the row at all (ragged rows, absent columns); empty means
// the column exists but holds nothing.
package tabular

import (
	"strconv"
	"strings"
)

// CellKind classifies a cell value.
type CellKind int

const (
	CellMissing CellKind = iota
	CellEmpty
	CellText
	CellNumber
)

func (k CellKind) String() string {
	switch k {
	case CellEmpty:
		return "empty"
	case CellText:
		return "text"
	case CellNumber:
		return "number"
	default:
		return "missing"
	}
}

// Cell is a single spreadsheet value. Numbers keep their canonical string
// form in Text so callers never see a trailing ".0".
type Cell struct {
	Kind CellKind
	Text string
}

// TextCell builds a text cell; blank input yields an empty cell.
func TextCell(s string) Cell {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellText, Text: s}
}

// NumberCell builds a numeric cell.
func NumberCell(f float64) Cell {
	return Cell{Kind: CellNumber, Text: FormatNumber(f)}
}

// String returns the cell text, "" for empty or missing cells.
func (c Cell) String() string {
	return c.Text
}

// IsBlank reports whether the cell carries no value.
func (c Cell) IsBlank() bool {
	return c.Kind == CellMissing || c.Kind == CellEmpty
}

// FormatNumber renders a float without exponent or trailing zeros.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StripFloatSuffix removes a trailing ".0" left behind by float coercion
// upstream, e.g. "8090.0" becomes "8090".
func StripFloatSuffix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, ".0") {
		return strings.TrimSuffix(s, ".0")
	}
	return s
}

// Row is an ordered mapping from column name to cell.
type Row struct {
	cols  []string
	cells map[string]Cell
}

// NewRow builds a row from parallel column and cell slices. Cells beyond
// the column list are ignored; columns without a cell are missing.
func NewRow(cols []string, cells []Cell) Row {
	r := Row{cols: make([]string, 0, len(cols)), cells: make(map[string]Cell, len(cols))}
	for i, c := range cols {
		cell := Cell{Kind: CellMissing}
		if i < len(cells) {
			cell = cells[i]
		}
		if _, dup := r.cells[c]; !dup {
			r.cols = append(r.cols, c)
		}
		r.cells[c] = cell
	}
	return r
}

// RowOf builds a text row from alternating column/value pairs.
func RowOf(pairs ...string) Row {
	cols := make([]string, 0, len(pairs)/2)
	cells := make([]Cell, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		cols = append(cols, pairs[i])
		cells = append(cells, TextCell(pairs[i+1]))
	}
	return NewRow(cols, cells)
}

// Columns returns the column names in sheet order.
func (r Row) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

// Get returns the cell for col. The boolean is false when the column is absent.
func (r Row) Get(col string) (Cell, bool) {
	c, ok := r.cells[col]
	if !ok {
		return Cell{Kind: CellMissing}, false
	}
	return c, true
}

// Str returns the trimmed text of col, or "" if blank or absent.
func (r Row) Str(col string) string {
	c, _ := r.Get(col)
	return c.Text
}

// Has reports whether col exists in the row, regardless of its value.
func (r Row) Has(col string) bool {
	_, ok := r.cells[col]
	return ok
}

// IsBlank reports whether every cell in the row is blank.
func (r Row) IsBlank() bool {
	for _, c := range r.cells {
		if !c.IsBlank() {
			return false
		}
	}
	return true
}

// With returns a copy of the row with col set to cell, appending the column
// when it is new.
func (r Row) With(col string, cell Cell) Row {
	out := Row{cols: make([]string, len(r.cols), len(r.cols)+1), cells: make(map[string]Cell, len(r.cells)+1)}
	copy(out.cols, r.cols)
	for k, v := range r.cells {
		out.cells[k] = v
	}
	if _, ok := out.cells[col]; !ok {
		out.cols = append(out.cols, col)
	}
	out.cells[col] = cell
	return out
}

// WithText is With for a text value.
func (r Row) WithText(col, value string) Row {
	return r.With(col, TextCell(value))
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.cols)
}
