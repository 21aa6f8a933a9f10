package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// PrometheusConnector fetches raw observations from the Prometheus HTTP API (or any
// compatible system such as VictoriaMetrics). It issues one /api/v1/query_range call per
// metric column and joins the results on (timestamp, entity label), producing rows like
//
//	{"Timestamp": time.Time, "NodeName": "nodeA", "CpuUsage": 12.5, "MemoryUsage": 40.1}
//
// Series sharing a timestamp and entity within one query are summed.
type PrometheusConnector struct {
	// ServerURL is the base URL, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Queries maps output column names to PromQL expressions.
	Queries map[string]string
	// EntityLabel is the series label holding the entity name. Defaults to "instance".
	EntityLabel string
	// TimestampColumn and EntityColumn name the join columns in the output.
	// They default to "Timestamp" and "NodeName".
	TimestampColumn string
	EntityColumn    string
	// Step controls the resolution (defaults to 60s if <= 0).
	Step time.Duration
	// Flavor is reported by Name. Defaults to "prometheus".
	Flavor string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusConnector) Name() string {
	if p.Flavor != "" {
		return p.Flavor
	}
	return "prometheus"
}

// Fetch implements Connector. q.Window selects how far back to query (default 1h);
// q.Text is ignored.
func (p *PrometheusConnector) Fetch(ctx context.Context, q Query) (*DataFrame, error) {
	if p.ServerURL == "" || len(p.Queries) == 0 {
		return nil, errors.New("prometheus connector: ServerURL and Queries are required")
	}

	window := q.Window
	if window <= 0 {
		window = time.Hour
	}
	step := p.Step
	if step <= 0 {
		step = time.Minute
	}
	end := time.Now().UTC().Truncate(time.Second)
	start := end.Add(-window)

	tsCol, entityCol := p.TimestampColumn, p.EntityColumn
	if tsCol == "" {
		tsCol = "Timestamp"
	}
	if entityCol == "" {
		entityCol = "NodeName"
	}
	label := p.EntityLabel
	if label == "" {
		label = "instance"
	}

	metrics := make([]string, 0, len(p.Queries))
	for col := range p.Queries {
		metrics = append(metrics, col)
	}
	sort.Strings(metrics)

	type key struct {
		ts     int64
		entity string
	}
	joined := make(map[key]Row)

	for _, col := range metrics {
		series, err := p.queryRange(ctx, p.Queries[col], start, end, step)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", col, err)
		}
		for _, s := range series {
			points, err := parsePairs(s.Values)
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", col, err)
			}
			entity := s.Metric[label]
			for ts, v := range points {
				k := key{ts: ts, entity: entity}
				row, ok := joined[k]
				if !ok {
					row = Row{tsCol: time.Unix(ts, 0).UTC(), entityCol: entity}
					joined[k] = row
				}
				if prev, ok := row[col].(float64); ok {
					v += prev
				}
				row[col] = v
			}
		}
	}

	keys := make([]key, 0, len(joined))
	for k := range joined {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ts != keys[j].ts {
			return keys[i].ts < keys[j].ts
		}
		return keys[i].entity < keys[j].entity
	})

	df := &DataFrame{Columns: append([]string{tsCol, entityCol}, metrics...)}
	for _, k := range keys {
		df.Rows = append(df.Rows, joined[k])
	}
	return df, nil
}

func (p *PrometheusConnector) queryRange(ctx context.Context, query string, start, end time.Time, step time.Duration) ([]PrometheusRangeSerie, error) {
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query_range"

	v := u.Query()
	v.Set("query", query)
	v.Set("start", strconv.FormatInt(start.Unix(), 10))
	v.Set("end", strconv.FormatInt(end.Unix(), 10))
	v.Set("step", strconv.Itoa(int(step.Seconds())))
	u.RawQuery = v.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var pr PrometheusRangeResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if pr.Status != "success" {
		return nil, fmt.Errorf("response status: %s", pr.Status)
	}
	return pr.Data.Result, nil
}

// PrometheusRangeResponse represents the response from Prometheus (and compatible systems).
type PrometheusRangeResponse struct {
	Status string              `json:"status"`
	Data   PrometheusRangeData `json:"data"`
}

// PrometheusRangeData contains the result data from a range query.
type PrometheusRangeData struct {
	ResultType string                 `json:"resultType"`
	Result     []PrometheusRangeSerie `json:"result"`
}

// PrometheusRangeSerie represents a single time series in the result.
type PrometheusRangeSerie struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

// parsePairs converts [ts, "value"] pairs into a map of unix seconds to value,
// summing duplicates.
func parsePairs(pairs [][]any) (map[int64]float64, error) {
	out := make(map[int64]float64, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
		}

		var tsSec int64
		switch v := pair[0].(type) {
		case float64:
			tsSec = int64(v)
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("parse timestamp: %w", err)
			}
			tsSec = int64(f)
		default:
			return nil, fmt.Errorf("unexpected timestamp type %T", v)
		}

		var val float64
		switch vv := pair[1].(type) {
		case string:
			f, err := strconv.ParseFloat(vv, 64)
			if err != nil {
				return nil, fmt.Errorf("parse value: %w", err)
			}
			val = f
		case float64:
			val = vv
		case json.Number:
			f, err := vv.Float64()
			if err != nil {
				return nil, fmt.Errorf("parse value: %w", err)
			}
			val = f
		default:
			return nil, fmt.Errorf("unexpected value type %T", vv)
		}
		out[tsSec] += val
	}
	return out, nil
}
