// Command forecaster serves usage forecasts over HTTP.
//
// At startup the forecaster loads the configured predictor, verifies that it offers the
// configured model and every quantile column the response needs, and only then starts
// listening. A model that fails to load or does not match the configuration ends the
// process with exit code 1.
//
// HTTP API (port 8080, configurable):
//   - POST /predict - Forecast the posted {timestamp, value, item_id} history
//   - GET /model - Loaded predictor, model and column mapping
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// With GRPC_LISTEN set, the loaded predictor is also exposed over gRPC, together with
// the standard health service.
//
// Usage:
//
//	forecaster \
//	  -model-path=TrainedModel \
//	  -model-name=AutoETS \
//	  -lower-quantile=p2.5 -upper-quantile=p97.5
//
// Environment variables:
//
//	LISTEN            - HTTP listen address (default: :8080)
//	GRPC_LISTEN       - gRPC listen address (default: disabled)
//	PREDICTOR         - Predictor backend: local, http, grpc (default: local)
//	MODEL_PATH        - Local model directory (default: TrainedModel)
//	MODEL_NAME        - Model name (default: AutoETS)
//	PREDICTOR_URL     - Remote predictor URL or gRPC target
//	PREDICTOR_TIMEOUT - Remote predictor timeout (default: 30s)
//	PREDICTION_COLUMN - Column served as prediction (default: mean)
//	LOWER_QUANTILE    - Quantile served as lowerBound (default: 0.025)
//	UPPER_QUANTILE    - Quantile served as upperBound (default: 0.975)
//	SERIALIZE_PREDICT - Run one prediction at a time (default: false)
//	MAX_BODY_BYTES    - Maximum request body size (default: 10MiB)
//	TLS_ENABLED, TLS_CERT_FILE, TLS_KEY_FILE, TLS_CA_FILE - mTLS settings
//	LOG_LEVEL         - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT        - Logging format: text, json (default: text)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/usagecast/cmd/forecaster/config"
	"github.com/HatiCode/usagecast/cmd/forecaster/metrics"
	"github.com/HatiCode/usagecast/cmd/forecaster/models"
	"github.com/HatiCode/usagecast/cmd/forecaster/router"
	"github.com/HatiCode/usagecast/pkg/httpx"
	"github.com/HatiCode/usagecast/pkg/logging"
	pkgmodels "github.com/HatiCode/usagecast/pkg/models"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("forecaster failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting usagecast forecaster",
		"version", version,
		"predictor", cfg.Predictor,
		"model", cfg.ModelName,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	predictor, closePredictor, err := models.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePredictor(); err != nil {
			logger.Error("failed to close predictor", "error", err)
		}
	}()

	m := metrics.New(prometheus.DefaultRegisterer)

	loadCtx, loadCancel := context.WithTimeout(ctx, cfg.PredictorTimeout)
	f, err := Load(loadCtx, predictor, cfg.ModelName, cfg.Columns, logger, m)
	loadCancel()
	if err != nil {
		return err
	}

	handler := router.SetupRoutes(f, router.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Gatherer:     prometheus.DefaultGatherer,
		Metrics:      m,
	}, logger)
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	serverTLS, err := cfg.TLS.Server()
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	serverErr := make(chan error, 2)
	go func() {
		if serverTLS != nil {
			httpServer.SetTLSConfig(serverTLS)
			serverErr <- httpServer.StartTLS("", "")
			return
		}
		serverErr <- httpServer.Start()
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		grpcServer, err = startGRPC(cfg, predictor, logger, serverErr)
		if err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// startGRPC exposes the loaded predictor on cfg.GRPCListen with the health and
// reflection services registered.
func startGRPC(cfg *config.Config, p pkgmodels.Predictor, logger *slog.Logger, errCh chan<- error) (*grpc.Server, error) {
	var opts []grpc.ServerOption
	tlsCfg, err := cfg.TLS.Server()
	if err != nil {
		return nil, fmt.Errorf("grpc tls: %w", err)
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	grpcServer := grpc.NewServer(opts...)
	pkgmodels.RegisterPredictorServer(grpcServer, p)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(pkgmodels.PredictorServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCListen)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		logger.Info("grpc server listening", "address", cfg.GRPCListen)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	return grpcServer, nil
}
