package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const shutdownTimeout = 5 * time.Second

// MetricsServer serves a Prometheus registry on /metrics.
// A nil *MetricsServer is valid and serves nothing.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a MetricsServer listening on addr.
func NewMetricsServer(addr string, registry *prometheus.Registry) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: shutdownTimeout,
		},
	}
}

// Handler returns the HTTP handler of the server.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is cancelled, then shuts the server down.
func (s *MetricsServer) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Serving metrics on %s/metrics", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Debugf("Shutting down metrics server on %s.", s.server.Addr)
		return s.server.Shutdown(shutdownCtx)
	}
}
