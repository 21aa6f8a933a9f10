package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// CSVConnector reads raw observations from a local CSV file with a header row.
// It is used to re-process exports offline without touching the metrics store.
type CSVConnector struct {
	// Path is the CSV file to read (required).
	Path string
	// Delimiter defaults to ','.
	Delimiter rune
}

func (c *CSVConnector) Name() string { return "csv" }

// Fetch implements Connector. The query text is ignored.
func (c *CSVConnector) Fetch(ctx context.Context, q Query) (*DataFrame, error) {
	if c.Path == "" {
		return nil, errors.New("csv connector: path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Path, err)
	}
	defer f.Close()

	delim := c.Delimiter
	if delim == 0 {
		delim = ','
	}
	return readCSVFrame(f, delim)
}

// readCSVFrame parses a header row followed by data rows. Column names are trimmed.
// Separator lines made only of dashes (as printed by sqlcmd) are skipped, and parsing
// stops at a "(N rows affected)" footer. Short rows keep only the columns they have.
func readCSVFrame(r io.Reader, delim rune) (*DataFrame, error) {
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return &DataFrame{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	df := &DataFrame{Columns: columns}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}

		if isFooter(record) {
			break
		}
		if isSeparator(record) {
			continue
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			}
		}
		df.Rows = append(df.Rows, row)
	}

	return df, nil
}

func isSeparator(record []string) bool {
	seen := false
	for _, field := range record {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if strings.Trim(field, "-") != "" {
			return false
		}
		seen = true
	}
	return seen
}

func isFooter(record []string) bool {
	if len(record) == 0 {
		return false
	}
	first := strings.TrimSpace(record[0])
	return strings.HasPrefix(first, "(") && strings.Contains(first, "affected)")
}
