package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"towerloc/internal/config"
	"towerloc/internal/handlers"
	"towerloc/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP triangulation API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := setupLogger(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
			Enabled:     cfg.Tracing.Enabled,
			ServiceName: cfg.Tracing.ServiceName,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,

			LiveSource:   cfg.Source,
			ReferenceLat: cfg.ReferenceLat,
			ReferenceLon: cfg.ReferenceLon,
		}, log)
		if err != nil {
			return err
		}
		defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

		a, err := buildApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		mux := http.NewServeMux()
		h := handlers.NewTriangulationHandler(a.svc, log)
		if a.sessions != nil {
			h.WithHistory(a.sessions)
		}
		h.Register(mux)
		mux.Handle("/metrics", a.metrics.Handler())

		srv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ScanTimeout+5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
