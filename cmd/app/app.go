package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"

	"towerloc/internal/catalog"
	"towerloc/internal/config"
	m "towerloc/internal/mosquitto"
	"towerloc/internal/observability"
	"towerloc/internal/position"
	"towerloc/internal/propagation"
	"towerloc/internal/recorder"
	"towerloc/internal/repository"
	"towerloc/internal/scanner"
	"towerloc/internal/storage"
)

// app is the wired service plus everything that must be released on exit.
type app struct {
	svc     *position.Service
	metrics *observability.LocateCollector
	// sessions is set when sessions are persisted to Postgres.
	sessions *repository.SessionRepository
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}

	metrics, err := observability.NewLocateCollector(nil)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a.metrics = metrics

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	log.Info("tower catalog loaded", "towers", cat.Len())

	model := propagation.NewModel()
	scanOpts := []scanner.Option{
		scanner.WithTimeout(cfg.ScanTimeout),
		scanner.WithMetricsRecorder(metrics),
	}

	seed := cfg.SimulationSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	simulated := scanner.New(scanner.NewSimulator(cat.Entries(), seed), cat, model, log, scanOpts...)

	svcOpts := []position.ServiceOption{position.WithMetrics(metrics)}

	live, err := a.liveSource(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	if live != nil {
		svcOpts = append(svcOpts, position.WithLiveScanner(scanner.New(live, cat, model, log, scanOpts...)))
	}

	store, err := a.sessionStore(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	svcOpts = append(svcOpts, position.WithSessionStore(store))

	estimator := position.NewEstimator(position.EstimatorConfig{
		Reference:          orb.Point{cfg.ReferenceLon, cfg.ReferenceLat},
		FallbackToCentroid: cfg.FallbackToCentroid,
	})
	a.svc = position.NewService(simulated, estimator, log, svcOpts...)
	return a, nil
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default()
	}
	cat := catalog.New()
	if err := catalog.LoadFile(cat, cfg.CatalogPath); err != nil {
		return nil, fmt.Errorf("loading catalog %s: %w", cfg.CatalogPath, err)
	}
	return cat, nil
}

func (a *app) liveSource(ctx context.Context, cfg config.Config, log *slog.Logger) (scanner.Source, error) {
	switch cfg.Source {
	case config.SourceModem:
		port := cfg.Modem.Port
		if port == "" {
			if modems, err := scanner.DetectModems(); err != nil {
				log.Warn("modem detection failed", "err", err)
			} else if len(modems) > 0 {
				port = modems[0].Name
				log.Info("modem detected", "port", port, "description", modems[0].Product)
			}
		}
		return scanner.NewModem(scanner.ModemConfig{
			Port:           port,
			BaudRate:       cfg.Modem.BaudRate,
			CommandTimeout: cfg.Modem.CommandTimeout,
		}, nil, log), nil

	case config.SourceMQTT:
		readings := storage.NewStorage()
		handler := m.NewHandler(readings, log).WithMetrics(a.metrics)
		client, err := m.NewClient(m.Config{
			Broker:   cfg.MQTT.Broker,
			ClientId: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topics:   cfg.MQTT.Topics,
			QoS:      1,
		}, handler, log)
		if err != nil {
			return nil, fmt.Errorf("creating broker client: %w", err)
		}
		log.Info("service connected to broker", "broker", cfg.MQTT.Broker)

		pruneCtx, stop := context.WithCancel(ctx)
		go prune(pruneCtx, readings, cfg.MQTT.MaxAge, log)
		a.closers = append(a.closers, client.Close, stop)
		return scanner.NewBrokerSource(readings, cfg.MQTT.MaxAge), nil

	default:
		return nil, nil
	}
}

// prune drops stale broker readings so memory tracks the towers in range.
func prune(ctx context.Context, readings *storage.Storage, maxAge time.Duration, log *slog.Logger) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(maxAge)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := readings.Prune(maxAge); n > 0 {
				log.Debug("pruned stale readings", "removed", n)
			}
		}
	}
}

func (a *app) sessionStore(cfg config.Config, log *slog.Logger) (position.SessionStore, error) {
	if cfg.DBDSN != "" {
		db, err := repository.ConnectWithRetry(cfg.DBDSN, 10, 2*time.Second)
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { _ = sqlDB.Close() })
		}
		log.Info("persisting sessions to postgres")
		a.sessions = repository.NewSessionRepository(db)
		return a.sessions, nil
	}

	rec, err := recorder.NewRecorder(cfg.SessionLogDir, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := rec.Close(); err != nil {
			log.Error("closing session log", "err", err)
		}
	})
	log.Info("persisting sessions to csv", "dir", cfg.SessionLogDir)
	return rec, nil
}
