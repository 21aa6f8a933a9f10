package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverSQLite     = "sqlite"
	DriverPostgres   = "pgx"
	DriverClickHouse = "clickhouse"
)

// SQLConnector runs a query against a database/sql source and returns every column of
// the result set. Values are passed through as scanned, except []byte which becomes string.
type SQLConnector struct {
	// Driver is one of "sqlite", "pgx" or "clickhouse".
	Driver string
	// DSN is the driver-specific data source name.
	DSN string
	// QueryTimeout bounds one query. Defaults to 60s.
	QueryTimeout time.Duration

	mu sync.Mutex
	db *sql.DB
}

// NewSQLConnector wraps an already opened database handle.
func NewSQLConnector(db *sql.DB, driver string) *SQLConnector {
	return &SQLConnector{Driver: driver, db: db}
}

func (s *SQLConnector) Name() string { return "sql" }

// Fetch implements Connector. q.Text is the SQL statement.
func (s *SQLConnector) Fetch(ctx context.Context, q Query) (*DataFrame, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.New("sql connector: query is required")
	}

	db, err := s.open()
	if err != nil {
		return nil, err
	}

	timeout := s.QueryTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	df := &DataFrame{Columns: columns}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			case nil:
			default:
				row[col] = v
			}
		}
		df.Rows = append(df.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return df, nil
}

// Close releases the database handle.
func (s *SQLConnector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLConnector) open() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	switch s.Driver {
	case DriverSQLite, DriverPostgres, DriverClickHouse:
	default:
		return nil, fmt.Errorf("sql connector: unsupported driver %q (must be sqlite, pgx or clickhouse)", s.Driver)
	}
	if s.DSN == "" {
		return nil, errors.New("sql connector: dsn is required")
	}

	db, err := sql.Open(s.Driver, s.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Driver, err)
	}
	s.db = db
	return db, nil
}
