package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/usagecast/pkg/samples"
	"github.com/HatiCode/usagecast/pkg/series"
)

// Wire documents shared by the HTTP and gRPC transports. Values are built from
// map[string]any and []any only, so they encode both as JSON and as
// google.protobuf.Struct:
//
//	history:     {"model": "AutoETS", "data": [{"timestamp": "...", "value": 15, "item_id": "nodeA_cpu"}]}
//	description: {"models": [...], "default_model": "AutoETS", "columns": ["mean", "0.025"], "prediction_length": 12, "freq": "5m0s"}
//	frame:       {"columns": [...], "predictions": [{"item_id": "nodeA_cpu", "timestamp": "...", "mean": 30, "0.025": 20.2}]}
//
// Timestamps are RFC 3339 in UTC.

func encodeHistory(model string, history []series.Record) map[string]any {
	data := make([]any, len(history))
	for i, r := range history {
		data[i] = map[string]any{
			"timestamp": r.Timestamp.UTC().Format(time.RFC3339Nano),
			"value":     r.Value,
			"item_id":   r.ItemID,
		}
	}
	return map[string]any{"model": model, "data": data}
}

func decodeHistory(doc gjson.Result) (string, []series.Record, error) {
	data := doc.Get("data")
	if !data.IsArray() {
		return "", nil, errors.New("data must be an array")
	}

	var out []series.Record
	for i, item := range data.Array() {
		ts, err := samples.ParseTimestamp(item.Get("timestamp").String())
		if err != nil {
			return "", nil, fmt.Errorf("data[%d].timestamp: %w", i, err)
		}
		v := item.Get("value")
		if v.Type != gjson.Number {
			return "", nil, fmt.Errorf("data[%d].value: not a number", i)
		}
		id := item.Get("item_id").String()
		if id == "" {
			return "", nil, fmt.Errorf("data[%d].item_id: empty", i)
		}
		out = append(out, series.Record{Timestamp: ts, ItemID: id, Value: v.Float()})
	}
	return doc.Get("model").String(), out, nil
}

func encodeDescription(d Description) map[string]any {
	return map[string]any{
		"models":            stringsToAny(d.Models),
		"default_model":     d.DefaultModel,
		"columns":           stringsToAny(d.Columns),
		"prediction_length": d.PredictionLength,
		"freq":              d.Frequency.String(),
	}
}

func decodeDescription(doc gjson.Result) (Description, error) {
	d := Description{
		DefaultModel:     doc.Get("default_model").String(),
		PredictionLength: int(doc.Get("prediction_length").Int()),
		Models:           resultStrings(doc.Get("models")),
		Columns:          resultStrings(doc.Get("columns")),
	}
	if f := doc.Get("freq").String(); f != "" {
		freq, err := ParseFrequency(f)
		if err != nil {
			return Description{}, err
		}
		d.Frequency = freq
	}
	if len(d.Columns) == 0 {
		return Description{}, errors.New("description lists no columns")
	}
	return d, nil
}

func encodeFrame(f QuantileFrame) (map[string]any, error) {
	preds := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		m := map[string]any{
			"item_id":   row.ItemID,
			"timestamp": row.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		for col, v := range row.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("item %s: non-finite %s value", row.ItemID, col)
			}
			m[col] = v
		}
		preds[i] = m
	}
	return map[string]any{"columns": stringsToAny(f.Columns), "predictions": preds}, nil
}

func decodeFrame(doc gjson.Result) (QuantileFrame, error) {
	preds := doc.Get("predictions")
	if !preds.IsArray() {
		return QuantileFrame{}, errors.New("predictions must be an array")
	}

	frame := QuantileFrame{Columns: resultStrings(doc.Get("columns"))}
	for i, item := range preds.Array() {
		if !item.IsObject() {
			return QuantileFrame{}, fmt.Errorf("predictions[%d] is not an object", i)
		}
		row := QuantileRow{Values: make(map[string]float64)}
		var rowErr error
		// keys such as "0.025" contain dots, so iterate instead of using paths
		item.ForEach(func(key, value gjson.Result) bool {
			switch k := key.String(); k {
			case "item_id":
				row.ItemID = value.String()
			case "timestamp":
				ts, err := samples.ParseTimestamp(value.String())
				if err != nil {
					rowErr = fmt.Errorf("timestamp: %w", err)
					return false
				}
				row.Timestamp = ts
			default:
				if value.Type == gjson.Number {
					row.Values[k] = value.Float()
				}
			}
			return true
		})
		if rowErr != nil {
			return QuantileFrame{}, fmt.Errorf("predictions[%d]: %w", i, rowErr)
		}
		if row.ItemID == "" {
			return QuantileFrame{}, fmt.Errorf("predictions[%d]: missing item_id", i)
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func resultStrings(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}
