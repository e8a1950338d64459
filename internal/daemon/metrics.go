package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/taptoon/taptoon-fe/internal/config"
	"github.com/taptoon/taptoon-fe/internal/metrics"
	"go.uber.org/zap"
)

// MetricsServer serves /metrics on the configured address. With no address
// configured it does nothing.
type MetricsServer struct {
	addr   string
	srv    *http.Server
	lis    net.Listener
	logger *zap.Logger
}

// NewMetricsServer creates the metrics endpoint for cfg.MetricsAddr.
func NewMetricsServer(cfg *config.Config, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &MetricsServer{
		addr:   cfg.MetricsAddr,
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Addr returns the bound address once started.
func (m *MetricsServer) Addr() string {
	if m.lis == nil {
		return ""
	}
	return m.lis.Addr().String()
}

// Start binds the listener and serves in the background.
func (m *MetricsServer) Start() error {
	if m.addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	m.lis = lis
	m.logger.Info("metrics server starting", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := m.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the endpoint down.
func (m *MetricsServer) Stop(ctx context.Context) {
	if m.lis == nil {
		return
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
