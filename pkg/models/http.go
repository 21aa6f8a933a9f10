package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/usagecast/pkg/series"
)

// HTTPPredictor delegates forecasting to an external model service:
//
//	GET  {endpoint}/info    -> description document
//	POST {endpoint}/predict -> history document in, frame document out
//
// This allows integration with any forecasting runtime that implements the contract.
type HTTPPredictor struct {
	endpoint string
	client   *http.Client
}

// NewHTTPPredictor creates a predictor for the service at endpoint. A nil client gets a
// default with a 30s timeout.
func NewHTTPPredictor(endpoint string, client *http.Client) *HTTPPredictor {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		}
	}
	return &HTTPPredictor{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (m *HTTPPredictor) Name() string { return "http" }

// Describe fetches the service description.
func (m *HTTPPredictor) Describe(ctx context.Context) (Description, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.endpoint+"/info", nil)
	if err != nil {
		return Description{}, fmt.Errorf("http predictor: create request: %w", err)
	}

	body, err := m.do(req)
	if err != nil {
		return Description{}, err
	}

	d, err := decodeDescription(gjson.ParseBytes(body))
	if err != nil {
		return Description{}, fmt.Errorf("http predictor: decode info: %w", err)
	}
	return d, nil
}

// Predict posts the history and decodes the returned frame.
func (m *HTTPPredictor) Predict(ctx context.Context, history []series.Record, model string) (QuantileFrame, error) {
	if len(history) == 0 {
		return QuantileFrame{}, fmt.Errorf("http predictor: history cannot be empty")
	}

	payload, err := json.Marshal(encodeHistory(model, history))
	if err != nil {
		return QuantileFrame{}, fmt.Errorf("http predictor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/predict", bytes.NewReader(payload))
	if err != nil {
		return QuantileFrame{}, fmt.Errorf("http predictor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := m.do(req)
	if err != nil {
		return QuantileFrame{}, err
	}

	frame, err := decodeFrame(gjson.ParseBytes(body))
	if err != nil {
		return QuantileFrame{}, fmt.Errorf("http predictor: decode response: %w", err)
	}
	return frame, nil
}

func (m *HTTPPredictor) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http predictor: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http predictor: http %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http predictor: read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("http predictor: response is not valid JSON")
	}
	return body, nil
}
