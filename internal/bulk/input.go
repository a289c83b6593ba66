// Package bulk reads extraction requests from CSV or XLSX sheets and feeds
// them to the trigger surface in throttled batches.
package bulk

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/directory-cli/internal/guard"
	"github.com/sells-group/directory-cli/internal/model"
)

// Recognized header columns. entity_type and external_place_id are required.
const (
	colEntityType      = "entity_type"
	colExternalPlaceID = "external_place_id"
	colSearchQuery     = "search_query"
	colName            = "name"
	colLocality        = "locality"
	colOverride        = "override"
	colForce           = "force"
	colForceAll        = "force_all"
)

// headerAliases maps loose spreadsheet headers onto canonical columns.
var headerAliases = map[string]string{
	"type":     colEntityType,
	"place_id": colExternalPlaceID,
	"query":    colSearchQuery,
	"city":     colLocality,
}

// Item is one parsed input row. Row is 1-based and counts the header.
type Item struct {
	Row     int
	Request guard.Request
	// Err is set when the row could not be parsed; the driver counts it as
	// invalid without calling the trigger.
	Err error
}

// XLSXOptions selects the sheet to read.
type XLSXOptions struct {
	SheetIndex int
	SheetName  string
}

// Load reads items from path, choosing the parser by extension.
func Load(ctx context.Context, path string) ([]Item, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{})
	case ".csv", ".txt":
		f, err := os.Open(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, eris.Wrapf(err, "bulk: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(ctx, f)
	default:
		return nil, eris.Errorf("bulk: unsupported input %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// ReadCSV parses a CSV stream with a header row.
func ReadCSV(ctx context.Context, r io.Reader) ([]Item, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var (
		cols  map[string]int
		items []Item
		row   int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "bulk: csv cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "bulk: read csv row")
		}
		row++
		if cols == nil {
			if cols, err = headerIndex(record); err != nil {
				return nil, err
			}
			continue
		}
		if blank(record) {
			continue
		}
		items = append(items, parseRow(row, cols, record))
	}
	if cols == nil {
		return nil, eris.New("bulk: csv is empty")
	}
	return items, nil
}

// ReadXLSX parses the selected sheet of an XLSX workbook. The first row is
// the header.
func ReadXLSX(path string, opts XLSXOptions) ([]Item, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "bulk: open xlsx %s", path)
	}
	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("bulk: sheet %q is empty", sheet.Name)
	}

	cols, err := headerIndex(rowToStrings(sheet.Rows[0]))
	if err != nil {
		return nil, err
	}
	var items []Item
	for i, r := range sheet.Rows[1:] {
		if r == nil {
			continue
		}
		cells := rowToStrings(r)
		if blank(cells) {
			continue
		}
		items = append(items, parseRow(i+2, cols, cells))
	}
	return items, nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("bulk: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("bulk: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

func headerIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
		if alias, ok := headerAliases[key]; ok {
			key = alias
		}
		if _, dup := cols[key]; !dup {
			cols[key] = i
		}
	}
	var missing []string
	for _, req := range []string{colEntityType, colExternalPlaceID} {
		if _, ok := cols[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("bulk: missing required columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func parseRow(row int, cols map[string]int, record []string) Item {
	get := func(col string) string {
		i, ok := cols[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	item := Item{Row: row}
	et, err := model.ParseEntityType(get(colEntityType))
	if err != nil {
		item.Err = err
		return item
	}
	req := guard.Request{
		EntityType:      et,
		ExternalPlaceID: get(colExternalPlaceID),
		SearchQuery:     get(colSearchQuery),
		Name:            get(colName),
		Locality:        get(colLocality),
		Force:           splitList(get(colForce)),
	}
	if req.Override, err = parseBool(get(colOverride)); err != nil {
		item.Err = eris.Wrapf(err, "bulk: row %d override", row)
		return item
	}
	if req.ForceAll, err = parseBool(get(colForceAll)); err != nil {
		item.Err = eris.Wrapf(err, "bulk: row %d force_all", row)
		return item
	}
	item.Request = req
	if err := req.Validate(); err != nil {
		item.Err = err
	}
	return item
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "", "0", "no", "n":
		return false, nil
	case "yes", "y", "x":
		return true, nil
	}
	return strconv.ParseBool(s)
}

// splitList accepts "a;b", "a|b" or "a, b".
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '|' || r == ',' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
