package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const (
	// DefaultLabelColumn is the diagnosis column of the PCOS workbook.
	DefaultLabelColumn = "PCOS (Y/N)"
	// DefaultSentinel marks an unusable cell in the source workbook.
	DefaultSentinel = "."
)

// DefaultIDSubstrings mark row-number, patient-identifier and
// auto-generated columns.
var DefaultIDSubstrings = []string{"Sl. No", "Patient", "Unnamed"}

// PrepareConfig configures a Preparer.
type PrepareConfig struct {
	LabelColumn  string   `json:"label_column"`
	IDSubstrings []string `json:"id_substrings"`
	Sentinel     string   `json:"sentinel"`
}

// DefaultPrepareConfig returns the configuration used for the PCOS workbook.
func DefaultPrepareConfig() PrepareConfig {
	return PrepareConfig{
		LabelColumn:  DefaultLabelColumn,
		IDSubstrings: append([]string(nil), DefaultIDSubstrings...),
		Sentinel:     DefaultSentinel,
	}
}

// QualityIssue summarises one kind of problem found in one column.
type QualityIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // low, medium, high
	Column   string `json:"column,omitempty"`
	Count    int    `json:"count"`
	Message  string `json:"message"`
}

// CleaningStats counts what preparation removed.
type CleaningStats struct {
	RowsRead         int      `json:"rows_read"`
	RowsKept         int      `json:"rows_kept"`
	RowsDropped      int      `json:"rows_dropped"`
	SentinelCells    int      `json:"sentinel_cells"`
	EmptyCells       int      `json:"empty_cells"`
	UnparseableCells int      `json:"unparseable_cells"`
	DroppedColumns   []string `json:"dropped_columns"`
}

// Dataset is the prepared training input: a numeric feature matrix, the
// label vector and the ordered feature names the matrix columns follow.
type Dataset struct {
	Features []string
	Label    string
	X        [][]float64
	Y        []int
	Stats    CleaningStats
	Issues   []QualityIssue
}

// Preparer turns a RawTable into a Dataset.
type Preparer struct {
	config PrepareConfig
	logger *zap.Logger
}

// NewPreparer creates a Preparer. Empty config fields fall back to the
// defaults; a nil logger is replaced by a no-op logger.
func NewPreparer(config PrepareConfig, logger *zap.Logger) *Preparer {
	if config.LabelColumn == "" {
		config.LabelColumn = DefaultLabelColumn
	}
	if config.IDSubstrings == nil {
		config.IDSubstrings = append([]string(nil), DefaultIDSubstrings...)
	}
	if config.Sentinel == "" {
		config.Sentinel = DefaultSentinel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preparer{config: config, logger: logger}
}

// frame is the column-oriented working state of a preparation run.
// Missing values are NaN.
type frame struct {
	columns []string
	cols    [][]float64
	nRows   int
}

// Prepare runs the cleaning steps in order: normalize column names, coerce
// cells to numbers (the sentinel and unparseable text become missing), drop
// identifier columns, check the label column, drop incomplete rows and
// split off the label.
func (p *Preparer) Prepare(table *RawTable) (*Dataset, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: nil table", ErrSchema)
	}

	ds := &Dataset{Label: p.config.LabelColumn}
	ds.Stats.RowsRead = len(table.Rows)

	columns, err := NormalizeColumns(table.Header)
	if err != nil {
		return nil, err
	}

	fr := &frame{columns: columns, cols: make([][]float64, len(columns)), nRows: len(table.Rows)}
	for c, name := range columns {
		counts := map[cellKind]int{}
		col := make([]float64, len(table.Rows))
		for r, row := range table.Rows {
			var cell string
			if c < len(row) {
				cell = row[c]
			}
			v, kind := parseCell(cell, p.config.Sentinel)
			col[r] = v
			counts[kind]++
		}
		fr.cols[c] = col
		ds.Stats.SentinelCells += counts[cellSentinel]
		ds.Stats.EmptyCells += counts[cellEmpty]
		ds.Stats.UnparseableCells += counts[cellUnparseable]
		ds.Issues = append(ds.Issues, columnIssues(name, counts, p.config.Sentinel)...)
	}

	keep := DropIdentifierColumns(fr.columns, p.config.IDSubstrings)
	ds.Stats.DroppedColumns = fr.selectColumns(keep)
	for _, name := range ds.Stats.DroppedColumns {
		p.logger.Debug("dropping identifier column", zap.String("column", name))
	}

	labelIdx := indexOf(fr.columns, p.config.LabelColumn)
	if labelIdx < 0 {
		return nil, fmt.Errorf("%w: label column %q not found", ErrSchema, p.config.LabelColumn)
	}
	if len(fr.columns) < 2 {
		return nil, fmt.Errorf("%w: no feature columns besides %q", ErrSchema, p.config.LabelColumn)
	}

	rows := fr.completeRows()
	ds.Stats.RowsKept = len(rows)
	ds.Stats.RowsDropped = fr.nRows - len(rows)
	if ds.Stats.RowsDropped > 0 {
		ds.Issues = append(ds.Issues, QualityIssue{
			Type:     "incomplete_row",
			Severity: "medium",
			Count:    ds.Stats.RowsDropped,
			Message:  "rows with at least one missing value were dropped",
		})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %d rows read, none complete", ErrEmptyDataset, fr.nRows)
	}

	ds.Features = make([]string, 0, len(fr.columns)-1)
	for c, name := range fr.columns {
		if c != labelIdx {
			ds.Features = append(ds.Features, name)
		}
	}

	ds.X = make([][]float64, len(rows))
	ds.Y = make([]int, len(rows))
	for i, r := range rows {
		label := fr.cols[labelIdx][r]
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("%w: label %q must be 0 or 1, got %v in row %d",
				ErrSchema, p.config.LabelColumn, label, r+2)
		}
		ds.Y[i] = int(label)

		x := make([]float64, 0, len(ds.Features))
		for c := range fr.columns {
			if c != labelIdx {
				x = append(x, fr.cols[c][r])
			}
		}
		ds.X[i] = x
	}

	p.logger.Info("dataset prepared",
		zap.Int("rows_read", ds.Stats.RowsRead),
		zap.Int("rows_kept", ds.Stats.RowsKept),
		zap.Int("features", len(ds.Features)),
		zap.Strings("dropped_columns", ds.Stats.DroppedColumns),
	)
	return ds, nil
}

// Positives returns how many rows carry label 1.
func (d *Dataset) Positives() int {
	n := 0
	for _, y := range d.Y {
		n += y
	}
	return n
}

var nbspToSpace = runes.Map(func(r rune) rune {
	switch r {
	case '\u00a0', '\u2007', '\u202f':
		return ' '
	}
	return r
})

// NormalizeColumnName maps non-breaking spaces to plain spaces and trims
// the result. Inner whitespace is kept as is.
func NormalizeColumnName(name string) string {
	out, _, err := transform.String(nbspToSpace, name)
	if err != nil {
		out = name
	}
	return strings.TrimSpace(out)
}

// NormalizeColumns normalizes every header cell. Blank headers are named
// "Unnamed: <index>" so identifier filtering removes them. Two headers that
// normalize to the same name are a schema error.
func NormalizeColumns(header []string) ([]string, error) {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, raw := range header {
		name := NormalizeColumnName(raw)
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: columns %d and %d both normalize to %q", ErrSchema, prev, i, name)
		}
		seen[name] = i
		out[i] = name
	}
	return out, nil
}

// DropIdentifierColumns returns the columns whose name contains none of
// the given substrings, in their original order.
func DropIdentifierColumns(columns []string, substrings []string) []string {
	keep := make([]string, 0, len(columns))
	for _, name := range columns {
		if !isIdentifier(name, substrings) {
			keep = append(keep, name)
		}
	}
	return keep
}

func isIdentifier(name string, substrings []string) bool {
	for _, s := range substrings {
		if s != "" && strings.Contains(name, s) {
			return true
		}
	}
	return false
}

type cellKind int

const (
	cellNumber cellKind = iota
	cellEmpty
	cellSentinel
	cellUnparseable
)

// ParseCell coerces one raw cell to a number. The sentinel, empty cells,
// unparseable text and non-finite numbers all report ok == false.
func ParseCell(raw, sentinel string) (v float64, ok bool) {
	v, kind := parseCell(raw, sentinel)
	return v, kind == cellNumber
}

// parseCell is ParseCell that also reports why a value is missing.
// Missing values are returned as NaN.
func parseCell(raw, sentinel string) (float64, cellKind) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return math.NaN(), cellEmpty
	case s == sentinel:
		return math.NaN(), cellSentinel
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), cellUnparseable
	}
	return v, cellNumber
}

func columnIssues(column string, counts map[cellKind]int, sentinel string) []QualityIssue {
	var issues []QualityIssue
	if n := counts[cellSentinel]; n > 0 {
		issues = append(issues, QualityIssue{
			Type: "sentinel", Severity: "medium", Column: column, Count: n,
			Message: fmt.Sprintf("invalid marker %q treated as missing", sentinel),
		})
	}
	if n := counts[cellUnparseable]; n > 0 {
		issues = append(issues, QualityIssue{
			Type: "unparseable", Severity: "high", Column: column, Count: n,
			Message: "non-numeric values treated as missing",
		})
	}
	if n := counts[cellEmpty]; n > 0 {
		issues = append(issues, QualityIssue{
			Type: "empty", Severity: "low", Column: column, Count: n,
			Message: "empty cells treated as missing",
		})
	}
	return issues
}

// selectColumns keeps only the named columns and returns the dropped ones.
func (f *frame) selectColumns(keep []string) []string {
	want := make(map[string]bool, len(keep))
	for _, k := range keep {
		want[k] = true
	}
	var (
		columns []string
		cols    [][]float64
		dropped []string
	)
	for i, name := range f.columns {
		if want[name] {
			columns = append(columns, name)
			cols = append(cols, f.cols[i])
		} else {
			dropped = append(dropped, name)
		}
	}
	f.columns, f.cols = columns, cols
	return dropped
}

func (f *frame) completeRows() []int {
	rows := make([]int, 0, f.nRows)
	for r := 0; r < f.nRows; r++ {
		complete := true
		for _, col := range f.cols {
			if math.IsNaN(col[r]) {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, r)
		}
	}
	return rows
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
