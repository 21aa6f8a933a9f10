package adapters

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// New creates a connector based on kind and a generic configuration map.
// This is the central extension point for adding new connector types.
//
// Supported kinds:
//   - "sqlcmd": sqlcmd client (server, user, password, database, command, timeout)
//   - "sql": database/sql (driver, dsn, timeout)
//   - "http": generic HTTP (url, method, headers, body, rowsPath, columns, timestampColumn, timestampFormat, templateVars)
//   - "prometheus" / "victoriametrics": range queries (url, queries, entityLabel, step)
//   - "csv": local file (path, delimiter)
//   - "static": an empty source, for dry runs
//
// Map-valued keys (headers, columns, queries, templateVars) are JSON objects.
// Returns error if kind is unknown or required fields are missing.
func New(kind string, config map[string]string) (Connector, error) {
	switch kind {
	case "sqlcmd":
		return newSQLCmd(config)
	case "sql":
		return newSQL(config)
	case "http":
		return newHTTP(config)
	case "prometheus":
		return newPrometheus(config, "prometheus", "http://localhost:9090")
	case "victoriametrics":
		return newPrometheus(config, "victoriametrics", "http://localhost:8428")
	case "csv":
		return newCSV(config)
	case "static":
		return &StaticConnector{}, nil
	default:
		return nil, fmt.Errorf("unknown connector kind: %s (must be sqlcmd, sql, http, prometheus, victoriametrics, csv or static)", kind)
	}
}

func newSQLCmd(config map[string]string) (Connector, error) {
	server := config["server"]
	if server == "" {
		return nil, fmt.Errorf("sqlcmd connector requires 'server' config")
	}
	timeout, err := parseDuration(config, "timeout")
	if err != nil {
		return nil, err
	}
	return &SQLCmdConnector{
		Command:  config["command"],
		Server:   server,
		User:     config["user"],
		Password: config["password"],
		Database: config["database"],
		Timeout:  timeout,
	}, nil
}

func newSQL(config map[string]string) (Connector, error) {
	driver := config["driver"]
	if driver == "" {
		return nil, fmt.Errorf("sql connector requires 'driver' config")
	}
	dsn := config["dsn"]
	if dsn == "" {
		return nil, fmt.Errorf("sql connector requires 'dsn' config")
	}
	switch driver {
	case DriverSQLite, DriverPostgres, DriverClickHouse:
	default:
		return nil, fmt.Errorf("sql connector: unsupported driver %q (must be sqlite, pgx or clickhouse)", driver)
	}
	timeout, err := parseDuration(config, "timeout")
	if err != nil {
		return nil, err
	}
	return &SQLConnector{Driver: driver, DSN: dsn, QueryTimeout: timeout}, nil
}

func newPrometheus(config map[string]string, flavor, defaultURL string) (Connector, error) {
	queries, err := parseJSONMap(config, "queries")
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("%s connector requires 'queries' config", flavor)
	}

	url := config["url"]
	if url == "" {
		url = defaultURL
	}

	step, err := parseDuration(config, "step")
	if err != nil {
		return nil, err
	}

	return &PrometheusConnector{
		ServerURL:       url,
		Queries:         queries,
		EntityLabel:     config["entityLabel"],
		TimestampColumn: config["timestampColumn"],
		EntityColumn:    config["entityColumn"],
		Step:            step,
		Flavor:          flavor,
	}, nil
}

func newHTTP(config map[string]string) (Connector, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http connector requires 'url' config")
	}

	headers, err := parseJSONMap(config, "headers")
	if err != nil {
		return nil, err
	}
	columns, err := parseJSONMap(config, "columns")
	if err != nil {
		return nil, err
	}
	templateVars, err := parseJSONMap(config, "templateVars")
	if err != nil {
		return nil, err
	}

	c := &HTTPConnector{
		URL:             url,
		Method:          config["method"],
		Headers:         headers,
		Body:            config["body"],
		RowsPath:        config["rowsPath"],
		Columns:         columns,
		TimestampColumn: config["timestampColumn"],
		TimestampFormat: config["timestampFormat"],
		TemplateVars:    templateVars,
	}
	if err := c.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http connector: %w", err)
	}
	return c, nil
}

func newCSV(config map[string]string) (Connector, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("csv connector requires 'path' config")
	}
	c := &CSVConnector{Path: path}
	if d := config["delimiter"]; d != "" {
		r := []rune(d)
		if len(r) != 1 {
			return nil, fmt.Errorf("csv connector: delimiter must be a single character, got %q", d)
		}
		c.Delimiter = r[0]
	}
	return c, nil
}

func parseJSONMap(config map[string]string, key string) (map[string]string, error) {
	raw := strings.TrimSpace(config[key])
	if raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid '%s' JSON: %w", key, err)
	}
	return m, nil
}

func parseDuration(config map[string]string, key string) (time.Duration, error) {
	raw := config[key]
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid '%s' duration: %w", key, err)
	}
	return d, nil
}
