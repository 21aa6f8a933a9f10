package series

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/HatiCode/usagecast/pkg/resample"
)

func at(min int) time.Time {
	return time.Date(2024, 1, 1, 0, min, 0, 0, time.UTC)
}

// splitItemID recovers the entity and metric by the last underscore.
func splitItemID(id string) (entity, metric string, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

func TestItemID_RoundTrip(t *testing.T) {
	tests := []struct {
		entity, metric string
	}{
		{"nodeA", "cpu"},
		{"node_with_underscores", "memory"},
		{"10.0.0.1:9100", "disk.io"},
	}
	for _, tt := range tests {
		id := ItemID(tt.entity, tt.metric)
		entity, metric, ok := splitItemID(id)
		if !ok || entity != tt.entity || metric != tt.metric {
			t.Errorf("splitItemID(%q) = %q, %q, %v", id, entity, metric, ok)
		}
	}
}

func TestItemID_Unique(t *testing.T) {
	entities := []string{"nodeA", "nodeB", "node_a", "a_b"}
	metrics := []string{"cpu", "memory", "disk.io"}

	seen := map[string][2]string{}
	for _, e := range entities {
		for _, m := range metrics {
			id := ItemID(e, m)
			if prev, ok := seen[id]; ok {
				t.Fatalf("collision: %q from %v and (%s, %s)", id, prev, e, m)
			}
			seen[id] = [2]string{e, m}
		}
	}
}

func TestItemID_SplitInvalid(t *testing.T) {
	for _, id := range []string{"", "nocolon", "_cpu", "nodeA_"} {
		if _, _, ok := splitItemID(id); ok {
			t.Errorf("splitItemID(%q) should fail", id)
		}
	}
}

func TestValidateMetricName(t *testing.T) {
	for _, name := range []string{"cpu", "memory", "disk.io", "net-rx"} {
		if err := ValidateMetricName(name); err != nil {
			t.Errorf("ValidateMetricName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", "cpu_usage", "a b"} {
		if err := ValidateMetricName(name); err == nil {
			t.Errorf("ValidateMetricName(%q) should fail", name)
		}
	}
}

func TestNewTagger_Validation(t *testing.T) {
	if _, err := NewTagger(nil); err == nil {
		t.Error("expected error for no metrics")
	}
	if _, err := NewTagger([]string{"cpu", "cpu"}); err == nil {
		t.Error("expected error for duplicate metric")
	}
	if _, err := NewTagger([]string{"cpu_usage"}); err == nil {
		t.Error("expected error for underscore in metric")
	}
}

func TestTagger_MetricMajorOrder(t *testing.T) {
	tagger, err := NewTagger([]string{"cpu", "memory"})
	if err != nil {
		t.Fatal(err)
	}

	points := []resample.Point{
		{Start: at(0), Entity: "nodeA", Metric: "memory", Mean: 40},
		{Start: at(5), Entity: "nodeA", Metric: "cpu", Mean: 12},
		{Start: at(0), Entity: "nodeB", Metric: "cpu", Mean: 3},
		{Start: at(0), Entity: "nodeA", Metric: "cpu", Mean: 15},
		{Start: at(0), Entity: "nodeA", Metric: "disk", Mean: 1},
		{Start: at(10), Entity: "nodeA", Metric: "cpu", Mean: math.NaN()},
	}

	records := tagger.Tag(points)

	want := []Record{
		{Timestamp: at(0), ItemID: "nodeA_cpu", Value: 15},
		{Timestamp: at(5), ItemID: "nodeA_cpu", Value: 12},
		{Timestamp: at(0), ItemID: "nodeB_cpu", Value: 3},
		{Timestamp: at(0), ItemID: "nodeA_memory", Value: 40},
	}
	if len(records) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(records), len(want), records)
	}
	for i := range want {
		if !records[i].Timestamp.Equal(want[i].Timestamp) || records[i].ItemID != want[i].ItemID || records[i].Value != want[i].Value {
			t.Errorf("record %d = %+v, want %+v", i, records[i], want[i])
		}
	}
}

func TestTagger_Empty(t *testing.T) {
	tagger, _ := NewTagger([]string{"cpu"})
	if got := tagger.Tag(nil); len(got) != 0 {
		t.Errorf("expected no records, got %v", got)
	}
}

func TestGroup(t *testing.T) {
	records := []Record{
		{Timestamp: at(5), ItemID: "nodeB_cpu", Value: 2},
		{Timestamp: at(5), ItemID: "nodeA_cpu", Value: 1},
		{Timestamp: at(0), ItemID: "nodeB_cpu", Value: 3},
	}

	groups := Group(records)
	if len(groups) != 2 || groups[0].ItemID != "nodeB_cpu" || groups[1].ItemID != "nodeA_cpu" {
		t.Fatalf("groups out of first-appearance order: %+v", groups)
	}
	if !groups[0].Records[0].Timestamp.Equal(at(0)) {
		t.Errorf("series not sorted by time: %+v", groups[0].Records)
	}
}
