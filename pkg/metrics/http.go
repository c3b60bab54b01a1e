package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Tabatskyi/multi-share/internal/logger"
)

// Serve exposes the registry on /metrics at addr until ctx is cancelled.
// Returns immediately with an error when the listener cannot bind.
func Serve(ctx context.Context, addr string) error {
	if !IsEnabled() {
		return fmt.Errorf("metrics registry not initialized")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}
