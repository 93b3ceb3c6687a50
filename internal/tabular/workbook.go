package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

// ErrSheetNotFound is returned when a requested sheet does not exist.
var ErrSheetNotFound = errors.New("sheet not found")

// Mode selects how column names are derived.
type Mode int

const (
	// HeaderMode uses the first row after SkipRows as column names.
	HeaderMode Mode = iota
	// PositionalMode drops all-empty columns and names the rest col_0..col_n.
	PositionalMode
)

// ReadOptions controls how a raw grid becomes a Sheet.
type ReadOptions struct {
	Mode Mode
	// SkipRows are dropped before anything else (title rows).
	SkipRows int
	// HeaderRows are dropped in PositionalMode after empty columns are
	// removed. Ignored in HeaderMode.
	HeaderRows int
}

// Sheet is a loaded sheet with stable column names.
type Sheet struct {
	Name    string
	Columns []string
	Rows    []Row
}

// HasColumn reports whether the sheet header contains col.
func (s *Sheet) HasColumn(col string) bool {
	for _, c := range s.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Workbook holds the raw cell grids of every sheet in a file.
type Workbook struct {
	Path   string
	names  []string
	sheets map[string][][]Cell
}

// NewWorkbook returns an empty in-memory workbook.
func NewWorkbook(path string) *Workbook {
	return &Workbook{Path: path, sheets: make(map[string][][]Cell)}
}

// AddSheet adds a sheet from a string grid. Strings that parse as numbers
// without a leading zero become numeric cells.
func (w *Workbook) AddSheet(name string, grid [][]string) {
	cells := make([][]Cell, len(grid))
	for i, row := range grid {
		cells[i] = make([]Cell, len(row))
		for j, v := range row {
			cells[i][j] = classify(v)
		}
	}
	w.addCells(name, cells)
}

func (w *Workbook) addCells(name string, cells [][]Cell) {
	if _, ok := w.sheets[name]; !ok {
		w.names = append(w.names, name)
	}
	w.sheets[name] = cells
}

// SheetNames returns sheet names in file order.
func (w *Workbook) SheetNames() []string {
	out := make([]string, len(w.names))
	copy(out, w.names)
	return out
}

// Lookup finds a sheet name matching name case-insensitively after trimming.
func (w *Workbook) Lookup(name string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, n := range w.names {
		if strings.ToLower(strings.TrimSpace(n)) == want {
			return n, true
		}
	}
	return "", false
}

// Sheet reads the named sheet.
func (w *Workbook) Sheet(name string, opts ReadOptions) (*Sheet, error) {
	actual, ok := w.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s (available: %s)", ErrSheetNotFound, name, w.Path, strings.Join(w.names, ", "))
	}
	return buildSheet(actual, w.sheets[actual], opts), nil
}

// FirstSheet reads the first candidate sheet that exists.
func (w *Workbook) FirstSheet(opts ReadOptions, candidates ...string) (*Sheet, error) {
	for _, c := range candidates {
		if _, ok := w.Lookup(c); ok {
			return w.Sheet(c, opts)
		}
	}
	return nil, fmt.Errorf("%w: none of %q in %s", ErrSheetNotFound, candidates, w.Path)
}

// Open loads a workbook by extension: .xlsx/.xlsm via excelize, .csv/.tsv
// as a single sheet named after the file.
func Open(path string) (*Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return OpenXLSX(path)
	case ".csv", ".tsv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		comma := ','
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			comma = '\t'
		}
		return ReadCSV(f, path, name, comma)
	default:
		return nil, fmt.Errorf("unsupported spreadsheet type: %s", path)
	}
}

// OpenXLSX loads every sheet of an xlsx file.
func OpenXLSX(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open excel %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return readExcel(f, path)
}

// ReadXLSX loads every sheet of an xlsx stream.
func ReadXLSX(r io.Reader, path string) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open excel %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return readExcel(f, path)
}

func readExcel(f *excelize.File, path string) (*Workbook, error) {
	wb := NewWorkbook(path)
	for _, sh := range f.GetSheetList() {
		rows, err := f.GetRows(sh, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q of %s: %w", sh, path, err)
		}
		grid := make([][]Cell, len(rows))
		for i, row := range rows {
			grid[i] = make([]Cell, len(row))
			for j, v := range row {
				grid[i][j] = excelCell(f, sh, i, j, v)
			}
		}
		wb.addCells(sh, grid)
	}
	return wb, nil
}

// excelCell keeps string-typed cells as text so codes like "01234" survive.
func excelCell(f *excelize.File, sheet string, row, col int, raw string) Cell {
	if strings.TrimSpace(raw) == "" {
		return Cell{Kind: CellEmpty}
	}
	num, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return TextCell(norm.NFKC.String(raw))
	}
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err == nil {
		if typ, err := f.GetCellType(sheet, axis); err == nil &&
			(typ == excelize.CellTypeSharedString || typ == excelize.CellTypeInlineString) {
			return TextCell(raw)
		}
	}
	return NumberCell(num)
}

// ReadCSV loads a delimited stream as a single-sheet workbook.
func ReadCSV(r io.Reader, path, sheet string, comma rune) (*Workbook, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV %s: %w", path, err)
	}

	wb := NewWorkbook(path)
	wb.AddSheet(sheet, records)
	return wb, nil
}

// classify turns a raw string into a cell. Numeric strings with a leading
// zero stay text.
func classify(raw string) Cell {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cell{Kind: CellEmpty}
	}
	if len(s) > 1 && s[0] == '0' && s[1] != '.' {
		return TextCell(norm.NFKC.String(s))
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return NumberCell(f)
	}
	return TextCell(norm.NFKC.String(s))
}

func buildSheet(name string, grid [][]Cell, opts ReadOptions) *Sheet {
	if opts.SkipRows > 0 {
		if opts.SkipRows >= len(grid) {
			grid = nil
		} else {
			grid = grid[opts.SkipRows:]
		}
	}

	if opts.Mode == PositionalMode {
		return buildPositional(name, grid, opts.HeaderRows)
	}
	return buildHeader(name, grid)
}

func buildHeader(name string, grid [][]Cell) *Sheet {
	sheet := &Sheet{Name: name}
	if len(grid) == 0 {
		return sheet
	}

	var keep []int
	seen := make(map[string]int)
	for i, h := range grid[0] {
		col := strings.TrimSpace(h.Text)
		if col == "" {
			continue
		}
		if n, dup := seen[col]; dup {
			seen[col] = n + 1
			col = fmt.Sprintf("%s.%d", col, n+1)
		} else {
			seen[col] = 0
		}
		keep = append(keep, i)
		sheet.Columns = append(sheet.Columns, col)
	}

	for _, raw := range grid[1:] {
		cells := make([]Cell, len(keep))
		for k, idx := range keep {
			if idx < len(raw) {
				cells[k] = raw[idx]
			} else {
				cells[k] = Cell{Kind: CellMissing}
			}
		}
		row := NewRow(sheet.Columns, cells)
		if row.IsBlank() {
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

func buildPositional(name string, grid [][]Cell, headerRows int) *Sheet {
	sheet := &Sheet{Name: name}

	width := 0
	for _, r := range grid {
		if len(r) > width {
			width = len(r)
		}
	}

	var keep []int
	for c := 0; c < width; c++ {
		for _, r := range grid {
			if c < len(r) && !r[c].IsBlank() {
				keep = append(keep, c)
				break
			}
		}
	}

	for i := range keep {
		sheet.Columns = append(sheet.Columns, fmt.Sprintf("col_%d", i))
	}

	if headerRows >= len(grid) {
		return sheet
	}
	for _, raw := range grid[headerRows:] {
		cells := make([]Cell, len(keep))
		for k, idx := range keep {
			if idx < len(raw) {
				cells[k] = raw[idx]
			} else {
				cells[k] = Cell{Kind: CellEmpty}
			}
		}
		row := NewRow(sheet.Columns, cells)
		if row.IsBlank() {
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}
