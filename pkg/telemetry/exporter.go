package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arb_engine/internal/core"
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	port   int
	logger core.ILogger
	srv    *http.Server
}

// NewMetricsServer creates a metrics server on the given port.
func NewMetricsServer(port int, logger core.ILogger) *MetricsServer {
	return &MetricsServer{
		port:   port,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Run serves /metrics until the context is cancelled.
func (s *MetricsServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting metrics server", "port", s.port)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	}
}
