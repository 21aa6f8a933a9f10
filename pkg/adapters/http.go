package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPConnector is a generic REST connector that calls an endpoint and extracts raw
// observation rows using gjson path expressions.
//
// Example configuration for a monitoring API returning
// {"data": [{"ts": "2024-01-01T00:01:00Z", "host": "nodeA", "cpu": 12.5, "mem": "40"}]}:
//
//	c := &HTTPConnector{
//	    URL:      "https://api.example.com/usage",
//	    Method:   "POST",
//	    Body:     `{"window": "{{.WindowSeconds}}s"}`,
//	    RowsPath: "data",
//	    Columns: map[string]string{
//	        "Timestamp":   "ts",
//	        "NodeName":    "host",
//	        "CpuUsage":    "cpu",
//	        "MemoryUsage": "mem",
//	    },
//	}
type HTTPConnector struct {
	// URL is the endpoint to call (required).
	URL string

	// Method is the HTTP method. Defaults to GET.
	Method string

	// Headers are sent with the request. Values may use template variables.
	Headers map[string]string

	// Body is the request body template. Supports variables:
	//   {{.WindowSeconds}} - the fetch window in seconds
	//   {{.Start}}         - start time as Unix timestamp
	//   {{.End}}           - end time as Unix timestamp
	//   {{.StartRFC3339}}  - start time as RFC3339 string
	//   {{.EndRFC3339}}    - end time as RFC3339 string
	//   {{.Query}}         - the query text
	Body string

	// RowsPath is the gjson path of the array of row objects. Empty means the
	// response itself is the array.
	RowsPath string

	// Columns maps output column names to gjson paths evaluated on each row.
	// When empty every top-level key of the row object becomes a column.
	Columns map[string]string

	// TimestampColumn names the output column that holds numeric epoch timestamps
	// when TimestampFormat is "unix" or "unix_milli".
	TimestampColumn string

	// TimestampFormat is "" (pass through), "unix" or "unix_milli".
	TimestampFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in Body and Headers templates.
	TemplateVars map[string]string
}

func (h *HTTPConnector) Name() string { return "http" }

// Fetch implements Connector.
func (h *HTTPConnector) Fetch(ctx context.Context, q Query) (*DataFrame, error) {
	if err := h.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("http connector: %w", err)
	}

	window := q.Window
	if window <= 0 {
		window = time.Hour
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-window)

	templateData := map[string]any{
		"WindowSeconds": int(window.Seconds()),
		"Start":         start.Unix(),
		"End":           now.Unix(),
		"StartRFC3339":  start.Format(time.RFC3339),
		"EndRFC3339":    now.Format(time.RFC3339),
		"Query":         q.Text,
	}
	for k, v := range h.TemplateVars {
		templateData[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, templateData)
		if err != nil {
			return nil, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = bytes.NewBufferString(rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, templateData)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return nil, errors.New("response is not valid JSON")
	}

	rowsResult := gjson.ParseBytes(respBody)
	if h.RowsPath != "" {
		rowsResult = rowsResult.Get(h.RowsPath)
		if !rowsResult.Exists() {
			return nil, fmt.Errorf("rows path %q not found in response", h.RowsPath)
		}
	}
	if !rowsResult.IsArray() {
		return nil, fmt.Errorf("rows path %q is not an array", h.RowsPath)
	}

	df := &DataFrame{Columns: h.columnNames()}
	for i, item := range rowsResult.Array() {
		if !item.IsObject() {
			return nil, fmt.Errorf("row %d is not an object", i)
		}
		row, err := h.extractRow(item)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		df.Rows = append(df.Rows, row)
	}

	if df.Columns == nil && len(df.Rows) > 0 {
		for k := range df.Rows[0] {
			df.Columns = append(df.Columns, k)
		}
		sort.Strings(df.Columns)
	}
	return df, nil
}

func (h *HTTPConnector) columnNames() []string {
	if len(h.Columns) == 0 {
		return nil
	}
	names := make([]string, 0, len(h.Columns))
	for name := range h.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *HTTPConnector) extractRow(item gjson.Result) (Row, error) {
	row := make(Row)
	if len(h.Columns) == 0 {
		item.ForEach(func(key, value gjson.Result) bool {
			row[key.String()] = value.Value()
			return true
		})
	} else {
		for name, path := range h.Columns {
			if v := item.Get(path); v.Exists() {
				row[name] = v.Value()
			}
		}
	}

	if h.TimestampColumn != "" && h.TimestampFormat != "" {
		raw, ok := row[h.TimestampColumn]
		if !ok {
			return row, nil
		}
		ts, err := parseEpoch(raw, h.TimestampFormat)
		if err != nil {
			return nil, err
		}
		row[h.TimestampColumn] = ts
	}
	return row, nil
}

func parseEpoch(v any, format string) (time.Time, error) {
	f, ok := v.(float64)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp %v is not numeric", v)
	}
	switch format {
	case "unix":
		return time.Unix(int64(f), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(f)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", format)
	}
}

// renderTemplate renders a text template with the given data.
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ValidateConfig checks if the connector configuration is valid.
func (h *HTTPConnector) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	switch h.TimestampFormat {
	case "", "unix", "unix_milli":
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be unix or unix_milli)", h.TimestampFormat)
	}
	if h.TimestampFormat != "" && h.TimestampColumn == "" {
		return errors.New("timestampColumn is required with timestampFormat")
	}
	return nil
}
