package sensors

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Column names of the registry and snapshot files, in output order after the id column.
const (
	ColumnLat           = "lat"
	ColumnLng           = "lng"
	ColumnTemp          = "temp"
	ColumnActivated     = "activated"
	ColumnTempWithNoise = "temp_with_noise"

	// DefaultIDColumn is written when a table carries no id column name of its own.
	DefaultIDColumn = "id"
	// LegacyIDColumn is the quarter column name used by existing registry files.
	LegacyIDColumn = "QUARTIER"
)

// ErrMalformedTable is returned for CSV input that does not match the registry schema.
var ErrMalformedTable = errors.New("malformed sensor table")

// Table is an ordered set of records plus the header name used for the id column.
type Table struct {
	IDColumn string
	Records  []Record
}

// Header returns the fixed column set for t.
func (t Table) Header() []string {
	id := t.IDColumn
	if id == "" {
		id = DefaultIDColumn
	}
	return []string{id, ColumnLat, ColumnLng, ColumnTemp, ColumnActivated, ColumnTempWithNoise}
}

// Decode parses a registry or snapshot CSV. Rows keep their file order.
func Decode(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, fmt.Errorf("%w: missing header row", ErrMalformedTable)
		}
		return Table{}, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		idx[name] = i
	}

	t := Table{}
	idCol := -1
	for _, name := range []string{DefaultIDColumn, LegacyIDColumn} {
		if i, ok := idx[name]; ok {
			t.IDColumn, idCol = name, i
			break
		}
	}
	if idCol < 0 {
		return Table{}, fmt.Errorf("%w: no %q or %q column", ErrMalformedTable, DefaultIDColumn, LegacyIDColumn)
	}
	for _, required := range []string{ColumnLat, ColumnLng} {
		if _, ok := idx[required]; !ok {
			return Table{}, fmt.Errorf("%w: no %q column", ErrMalformedTable, required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}

		rec := Record{
			ID:        strings.TrimSpace(row[idCol]),
			Activated: field(row, ColumnActivated),
		}
		if rec.ID == "" {
			return Table{}, fmt.Errorf("%w: line %d: empty id", ErrMalformedTable, line)
		}
		if rec.Lat, err = strconv.ParseFloat(field(row, ColumnLat), 64); err != nil {
			return Table{}, fmt.Errorf("%w: line %d: lat: %v", ErrMalformedTable, line, err)
		}
		if rec.Lng, err = strconv.ParseFloat(field(row, ColumnLng), 64); err != nil {
			return Table{}, fmt.Errorf("%w: line %d: lng: %v", ErrMalformedTable, line, err)
		}
		if rec.Temp, err = optionalFloat(field(row, ColumnTemp)); err != nil {
			return Table{}, fmt.Errorf("%w: line %d: temp: %v", ErrMalformedTable, line, err)
		}
		if rec.TempWithNoise, err = optionalFloat(field(row, ColumnTempWithNoise)); err != nil {
			return Table{}, fmt.Errorf("%w: line %d: temp_with_noise: %v", ErrMalformedTable, line, err)
		}
		if (rec.Temp == nil) != (rec.TempWithNoise == nil) {
			return Table{}, fmt.Errorf("%w: line %d: temp and temp_with_noise must be set together", ErrMalformedTable, line)
		}

		t.Records = append(t.Records, rec)
	}

	return t, nil
}

// Encode writes t as CSV: one header row and one row per record.
func Encode(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return err
	}
	for _, rec := range t.Records {
		row := []string{
			rec.ID,
			formatFloat(rec.Lat),
			formatFloat(rec.Lng),
			formatOptional(rec.Temp),
			rec.Activated,
			formatOptional(rec.TempWithNoise),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func optionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
