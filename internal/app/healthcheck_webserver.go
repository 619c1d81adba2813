package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
)

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// handler serves /health and the run's Prometheus collectors on /metrics.
func (a *App) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return mux
}

// startServer runs the health and metrics server when a port is configured.
func (a *App) startServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.cfg.MetricsPort <= 0 {
		logger.Debug("Health and metrics server disabled.")
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.MetricsPort))
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	a.httpServer = &http.Server{Handler: a.handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("🩺 Health and metrics server starting.", "address", fmt.Sprintf("http://%s", ln.Addr()))
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed unexpectedly.", "error", err)
		}
	}()
	return nil
}

func (a *App) stopServer(ctx context.Context) {
	if a.httpServer == nil {
		return
	}
	logger := ctxlog.FromContext(ctx)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed.", "error", err)
		return
	}
	a.httpServer = nil
	logger.Debug("Metrics server shut down gracefully.")
}
