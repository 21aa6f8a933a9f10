package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"extraction", Extraction("fetch", base), KindExtraction},
		{"wrapped prediction", fmt.Errorf("handler: %w", Prediction("predict", base)), KindPrediction},
		{"validation", Validation("decode", "record 0: missing timestamp"), KindValidation},
		{"plain error", base, ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("no such file")
	err := ModelLoad("load", base)

	if !errors.Is(err, base) {
		t.Error("ModelLoad error should unwrap to its cause")
	}
	if !Is(err, KindModelLoad) {
		t.Error("Is(err, KindModelLoad) = false, want true")
	}
	if Is(err, KindPrediction) {
		t.Error("Is(err, KindPrediction) = true, want false")
	}
}

func TestError_Message(t *testing.T) {
	err := Validation("decode", "record 0: missing item_id", "record 1: value must be a number")
	msg := err.Error()

	for _, want := range []string{"decode", "invalid request", "missing item_id", "value must be a number"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	if got := DetailsOf(err); len(got) != 2 {
		t.Errorf("DetailsOf() returned %d details, want 2", len(got))
	}
}
