package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// RawTable is a source sheet as read from disk: one header row and string
// cells. Rows are padded to the header width.
type RawTable struct {
	Header []string
	Rows   [][]string
}

// RawRecord is a single row of a RawTable keyed by its raw column name.
type RawRecord map[string]string

// IngestionConfig controls how a source file is read.
type IngestionConfig struct {
	// Sheet is the worksheet to read from spreadsheet files. Empty selects
	// the first sheet.
	Sheet string `json:"sheet"`
	// Encoding applies to delimited text files only: utf-8, windows-1252,
	// latin1 or gbk.
	Encoding string `json:"encoding"`
}

// Record returns row i keyed by raw header name. Later duplicates win.
func (t *RawTable) Record(i int) RawRecord {
	rec := make(RawRecord, len(t.Header))
	for c, name := range t.Header {
		rec[name] = t.Rows[i][c]
	}
	return rec
}

// LoadTable reads a spreadsheet (.xlsx, .xlsm) or delimited text file
// (.csv, .tsv) into a RawTable.
func LoadTable(path string, cfg IngestionConfig) (*RawTable, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return loadWorkbook(path, cfg.Sheet)
	case ".csv":
		return loadDelimited(path, ',', cfg.Encoding)
	case ".tsv":
		return loadDelimited(path, '\t', cfg.Encoding)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", filepath.Ext(path))
	}
}

func loadWorkbook(path, sheet string) (*RawTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New("workbook has no sheets")
		}
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found in %s", sheet, filepath.Base(path))
	}

	// stored values, not display text: "1,234.50" or "25.00%" would not parse
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return newRawTable(rows)
}

func loadDelimited(path string, comma rune, enc string) (*RawTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := textDecoder(enc)
	if err != nil {
		return nil, err
	}
	var r io.Reader = file
	if decoder != nil {
		r = transform.NewReader(file, decoder)
	}

	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return newRawTable(rows)
}

func textDecoder(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "gbk":
		return simplifiedchinese.GBK.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported text encoding %q", name)
	}
}

func newRawTable(rows [][]string) (*RawTable, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: source has no header row", ErrSchema)
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	header := pad(rows[0], width)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := &RawTable{Header: header, Rows: make([][]string, 0, len(rows)-1)}
	for _, row := range rows[1:] {
		table.Rows = append(table.Rows, pad(row, width))
	}
	return table, nil
}

func pad(row []string, width int) []string {
	out := make([]string, width)
	copy(out, row)
	return out
}
