package models

import (
	"context"
	"sync"

	"github.com/HatiCode/usagecast/pkg/series"
)

// Serialize wraps p so that at most one Describe or Predict call runs at a time. Use it
// for implementations that are not safe for concurrent use.
func Serialize(p Predictor) Predictor {
	if _, ok := p.(*serialized); ok {
		return p
	}
	return &serialized{inner: p}
}

type serialized struct {
	mu    sync.Mutex
	inner Predictor
}

func (s *serialized) Name() string { return s.inner.Name() }

func (s *serialized) Describe(ctx context.Context) (Description, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Describe(ctx)
}

func (s *serialized) Predict(ctx context.Context, history []series.Record, model string) (QuantileFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Predict(ctx, history, model)
}
