package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPrometheusConnector_JoinsMetricsPerEntity(t *testing.T) {
	responses := map[string]string{
		"cpu_query": `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"node":"nodeA"},"values":[[1704067260,"10"],[1704067380,"20"]]},
			{"metric":{"node":"nodeB"},"values":[[1704067260,"5"]]}
		]}}`,
		"mem_query": `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{"node":"nodeA"},"values":[[1704067260,"40"]]}
		]}}`,
	}

	var steps []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query_range" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		steps = append(steps, r.URL.Query().Get("step"))
		body, ok := responses[r.URL.Query().Get("query")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	conn := &PrometheusConnector{
		ServerURL:   server.URL,
		Queries:     map[string]string{"CpuUsage": "cpu_query", "MemoryUsage": "mem_query"},
		EntityLabel: "node",
		Step:        2 * time.Minute,
	}

	df, err := conn.Fetch(context.Background(), Query{Window: time.Hour})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	wantCols := []string{"Timestamp", "NodeName", "CpuUsage", "MemoryUsage"}
	if fmt.Sprint(df.Columns) != fmt.Sprint(wantCols) {
		t.Errorf("Columns = %v, want %v", df.Columns, wantCols)
	}
	if df.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", df.Len())
	}
	for _, s := range steps {
		if s != "120" {
			t.Errorf("step = %s, want 120", s)
		}
	}

	first := df.Rows[0]
	if first["NodeName"] != "nodeA" || first["CpuUsage"] != 10.0 || first["MemoryUsage"] != 40.0 {
		t.Errorf("unexpected first row: %v", first)
	}
	if ts := first["Timestamp"].(time.Time); !ts.Equal(time.Unix(1704067260, 0)) {
		t.Errorf("Timestamp = %v", ts)
	}

	second := df.Rows[1]
	if second["NodeName"] != "nodeB" {
		t.Errorf("rows not ordered by timestamp then entity: %v", df.Rows)
	}
	if _, ok := second["MemoryUsage"]; ok {
		t.Errorf("nodeB has no memory series, got %v", second["MemoryUsage"])
	}
}

func TestPrometheusConnector_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusServiceUnavailable, ""},
		{"error status", http.StatusOK, `{"status":"error","data":{}}`},
		{"bad pair", http.StatusOK, `{"status":"success","data":{"result":[{"metric":{},"values":[[1]]}]}}`},
		{"bad value", http.StatusOK, `{"status":"success","data":{"result":[{"metric":{},"values":[[1,"x"]]}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			conn := &PrometheusConnector{ServerURL: server.URL, Queries: map[string]string{"CpuUsage": "up"}}
			if _, err := conn.Fetch(context.Background(), Query{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPrometheusConnector_RequiresQueries(t *testing.T) {
	if _, err := (&PrometheusConnector{ServerURL: "http://x"}).Fetch(context.Background(), Query{}); err == nil {
		t.Fatal("expected error without queries")
	}
}
