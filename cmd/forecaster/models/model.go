// Package models builds the predictor selected by the forecaster configuration.
package models

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HatiCode/usagecast/cmd/forecaster/config"
	"github.com/HatiCode/usagecast/pkg/apperr"
	"github.com/HatiCode/usagecast/pkg/httpx"
	"github.com/HatiCode/usagecast/pkg/models"
)

// New loads the configured predictor. The returned close function releases any
// connection held by the predictor and is never nil. Every failure is a model_load error.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (models.Predictor, func() error, error) {
	noop := func() error { return nil }

	var (
		p       models.Predictor
		closeFn = noop
	)

	switch cfg.Predictor {
	case config.PredictorLocal:
		logger.Info("loading local predictor", "path", cfg.ModelPath)
		local, err := models.LoadLocal(cfg.ModelPath)
		if err != nil {
			return nil, noop, apperr.ModelLoad("models.New", err)
		}
		p = local

	case config.PredictorHTTP:
		logger.Info("initializing HTTP predictor", "url", cfg.PredictorURL)
		client, err := httpx.NewClient(cfg.TLS, cfg.PredictorTimeout)
		if err != nil {
			return nil, noop, apperr.ModelLoad("models.New", err)
		}
		p = models.NewHTTPPredictor(cfg.PredictorURL, client)

	case config.PredictorGRPC:
		logger.Info("dialing gRPC predictor", "target", cfg.PredictorURL)
		tlsCfg, err := cfg.TLS.Client()
		if err != nil {
			return nil, noop, apperr.ModelLoad("models.New", err)
		}
		dialCtx, cancel := context.WithTimeout(ctx, cfg.PredictorTimeout)
		defer cancel()
		g, err := models.DialGRPCPredictor(dialCtx, cfg.PredictorURL, tlsCfg)
		if err != nil {
			return nil, noop, apperr.ModelLoad("models.New", err)
		}
		p, closeFn = g, g.Close

	default:
		return nil, noop, apperr.ModelLoad("models.New", fmt.Errorf("unknown predictor %q", cfg.Predictor))
	}

	if cfg.SerializePredict {
		logger.Info("serializing predict calls")
		p = models.Serialize(p)
	}
	return p, closeFn, nil
}
