package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPConnector_BasicGET(t *testing.T) {
	json := `{
        "data": [
            {"ts": "2024-01-01T00:01:00Z", "host": "nodeA", "cpu": 10, "mem": "40.5"},
            {"ts": "2024-01-01T00:03:00Z", "host": "nodeA", "cpu": 20, "mem": "41"}
        ]
    }`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected Accept: application/json header")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, json)
	}))
	defer server.Close()

	conn := &HTTPConnector{
		URL:      server.URL,
		RowsPath: "data",
		Columns: map[string]string{
			"Timestamp":   "ts",
			"NodeName":    "host",
			"CpuUsage":    "cpu",
			"MemoryUsage": "mem",
		},
	}

	df, err := conn.Fetch(context.Background(), Query{Window: 10 * time.Minute})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if df.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", df.Len())
	}
	if len(df.Columns) != 4 {
		t.Errorf("expected 4 columns, got %v", df.Columns)
	}

	row := df.Rows[0]
	if row["NodeName"] != "nodeA" {
		t.Errorf("NodeName = %v, want nodeA", row["NodeName"])
	}
	if v, ok := row["CpuUsage"].(float64); !ok || v != 10 {
		t.Errorf("CpuUsage = %v, want float64 10", row["CpuUsage"])
	}
	// strings are passed through untouched
	if row["MemoryUsage"] != "40.5" {
		t.Errorf("MemoryUsage = %v, want \"40.5\"", row["MemoryUsage"])
	}
}

func TestHTTPConnector_AllKeysWithoutColumns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"Timestamp": "2024-01-01 00:01:00", "NodeName": "nodeB", "CpuUsage": 3}]`)
	}))
	defer server.Close()

	df, err := (&HTTPConnector{URL: server.URL}).Fetch(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if df.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", df.Len())
	}
	want := []string{"CpuUsage", "NodeName", "Timestamp"}
	if strings.Join(df.Columns, ",") != strings.Join(want, ",") {
		t.Errorf("Columns = %v, want %v", df.Columns, want)
	}
}

func TestHTTPConnector_POSTWithTemplates(t *testing.T) {
	var receivedBody, receivedAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		receivedBody = string(b)
		receivedAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"rows": []}`)
	}))
	defer server.Close()

	conn := &HTTPConnector{
		URL:          server.URL,
		Method:       http.MethodPost,
		Body:         `{"window": "{{.WindowSeconds}}s", "q": "{{.Query}}"}`,
		Headers:      map[string]string{"Authorization": "Bearer {{.Token}}"},
		TemplateVars: map[string]string{"Token": "secret123"},
		RowsPath:     "rows",
	}

	df, err := conn.Fetch(context.Background(), Query{Text: "usage", Window: time.Hour})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if df.Len() != 0 {
		t.Errorf("expected empty frame, got %d rows", df.Len())
	}
	if receivedBody != `{"window": "3600s", "q": "usage"}` {
		t.Errorf("unexpected body: %s", receivedBody)
	}
	if receivedAuth != "Bearer secret123" {
		t.Errorf("expected 'Bearer secret123', got '%s'", receivedAuth)
	}
}

func TestHTTPConnector_EpochTimestamps(t *testing.T) {
	tests := []struct {
		name   string
		format string
		body   string
		want   time.Time
	}{
		{"unix", "unix", `{"points": [{"t": 1704067260, "v": 1}]}`, time.Unix(1704067260, 0).UTC()},
		{"unix_milli", "unix_milli", `{"points": [{"t": 1704067260000, "v": 1}]}`, time.UnixMilli(1704067260000).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			conn := &HTTPConnector{
				URL:             server.URL,
				RowsPath:        "points",
				Columns:         map[string]string{"Timestamp": "t", "CpuUsage": "v"},
				TimestampColumn: "Timestamp",
				TimestampFormat: tt.format,
			}
			df, err := conn.Fetch(context.Background(), Query{})
			if err != nil {
				t.Fatalf("Fetch error: %v", err)
			}
			ts, ok := df.Rows[0]["Timestamp"].(time.Time)
			if !ok || !ts.Equal(tt.want) {
				t.Errorf("Timestamp = %v, want %v", df.Rows[0]["Timestamp"], tt.want)
			}
		})
	}
}

func TestHTTPConnector_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		rowsPath string
		wantErr  string
	}{
		{"http error", http.StatusInternalServerError, "boom", "", "http status 500"},
		{"invalid json", http.StatusOK, "{not json", "", "not valid JSON"},
		{"missing rows path", http.StatusOK, `{"other": []}`, "data", "not found"},
		{"rows not array", http.StatusOK, `{"data": {"a": 1}}`, "data", "not an array"},
		{"row not object", http.StatusOK, `{"data": [1, 2]}`, "data", "not an object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := (&HTTPConnector{URL: server.URL, RowsPath: tt.rowsPath}).Fetch(context.Background(), Query{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPConnector_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := (&HTTPConnector{URL: server.URL}).Fetch(ctx, Query{}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestHTTPConnector_ValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		conn    HTTPConnector
		wantErr bool
	}{
		{"valid", HTTPConnector{URL: "http://x"}, false},
		{"missing url", HTTPConnector{}, true},
		{"bad format", HTTPConnector{URL: "http://x", TimestampColumn: "ts", TimestampFormat: "iso"}, true},
		{"format without column", HTTPConnector{URL: "http://x", TimestampFormat: "unix"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conn.ValidateConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
