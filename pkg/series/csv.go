package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the timestamp format of the series file.
const TimestampLayout = "2006-01-02 15:04:05"

// Header is the column header of the series file. It is a stable contract with the
// forecaster and external training jobs.
var Header = []string{"Timestamp", "Value", "item_id"}

// WriteCSV writes records with Header. Timestamps are written in UTC.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.UTC().Format(TimestampLayout),
			strconv.FormatFloat(r.Value, 'f', -1, 64),
			r.ItemID,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a series file written by WriteCSV. Column order is taken from the header.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	pos := map[string]int{}
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	for _, h := range Header {
		if _, ok := pos[h]; !ok {
			return nil, fmt.Errorf("missing column %q", h)
		}
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := time.Parse(TimestampLayout, row[pos["Timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}
		v, err := strconv.ParseFloat(row[pos["Value"]], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: value: %w", line, err)
		}
		out = append(out, Record{Timestamp: ts.UTC(), ItemID: row[pos["item_id"]], Value: v})
	}
	return out, nil
}
