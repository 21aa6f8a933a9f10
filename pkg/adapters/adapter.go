// Package adapters provides the metrics-source connectors used by the batch extractor.
//
// A connector pulls raw observation rows of the form
//
//	{"Timestamp": "2024-01-01 00:01:00", "NodeName": "nodeA", "CpuUsage": "12.5", "MemoryUsage": 40.1}
//
// from an external metrics store and returns them as a DataFrame. Connectors do not
// validate or coerce values: heterogeneous strings and numbers are passed through untouched
// and left to the sample normalizer. Available connectors:
//   - SQLCmdConnector    shells out to the sqlcmd client and parses its CSV output
//   - SQLConnector       database/sql over sqlite, pgx (PostgreSQL) or clickhouse drivers
//   - HTTPConnector      generic REST source with gjson row extraction
//   - PrometheusConnector one range query per metric, joined on timestamp and entity label
//   - CSVConnector       a local CSV file of raw observations
//   - StaticConnector    fixed in-memory rows, for tests and dry runs
package adapters

import (
	"context"
	"time"
)

// Row is a single raw observation keyed by column name.
type Row map[string]any

// DataFrame is the tabular result of a fetch. Columns lists the column names in source
// order when the source exposes them; Rows may hold additional keys.
type DataFrame struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (df *DataFrame) Len() int {
	if df == nil {
		return 0
	}
	return len(df.Rows)
}

// Query describes what to fetch. Text is interpreted by the connector (SQL for database
// connectors, ignored by connectors configured per metric). Window bounds time-ranged
// sources; zero means the connector default.
type Query struct {
	Text   string
	Window time.Duration
}

// Connector is the interface every metrics source implements.
//
// Fetch is synchronous, must respect context cancellation, and must never panic.
// Any failure (unreachable source, malformed output) is returned as an error; callers
// treat it as an extraction failure for the whole run.
type Connector interface {
	Fetch(ctx context.Context, q Query) (*DataFrame, error)

	// Name returns a short identifier such as "sqlcmd", "sql" or "prometheus".
	Name() string
}

// StaticConnector returns a fixed DataFrame (or error) from every Fetch.
type StaticConnector struct {
	Frame *DataFrame
	Err   error
}

func (s *StaticConnector) Name() string { return "static" }

// Fetch implements Connector.
func (s *StaticConnector) Fetch(ctx context.Context, q Query) (*DataFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Frame == nil {
		return &DataFrame{}, nil
	}
	rows := make([]Row, len(s.Frame.Rows))
	for i, r := range s.Frame.Rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		rows[i] = cp
	}
	return &DataFrame{Columns: append([]string(nil), s.Frame.Columns...), Rows: rows}, nil
}
