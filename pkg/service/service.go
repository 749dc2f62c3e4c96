package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ram-shortage/BRindeX/pkg/applier"
	"github.com/ram-shortage/BRindeX/pkg/config"
	"github.com/ram-shortage/BRindeX/pkg/events"
	"github.com/ram-shortage/BRindeX/pkg/ipc"
	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/metrics"
	"github.com/ram-shortage/BRindeX/pkg/query"
	"github.com/ram-shortage/BRindeX/pkg/reconcile"
	"github.com/ram-shortage/BRindeX/pkg/registry"
	"github.com/ram-shortage/BRindeX/pkg/store"
)

// Service assembles the indexing core in dependency order: store,
// applier, registry, reconciler, query executor, IPC. The host (service
// wrapper or foreground process) supplies the shutdown context and the
// log sink.
type Service struct {
	cfg       *config.Config
	st        *store.Store
	broker    *events.Broker
	app       *applier.Applier
	reg       *registry.Registry
	rec       *reconcile.Reconciler
	ipcServer *ipc.Server
	collector *metrics.Collector
	logger    zerolog.Logger
}

// New opens the store and wires every subsystem. A corrupt database
// surfaces store.ErrCorrupt so the host can decide to rebuild.
func New(cfg *config.Config) (*Service, error) {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			return nil, fmt.Errorf("index database is corrupt, delete %s to rebuild: %w", cfg.DataDir, err)
		}
		return nil, err
	}

	broker := events.NewBroker()
	app := applier.New(st, cfg.BatchSize)
	reg := registry.New(cfg, st, app, broker)
	rec := reconcile.New(st, cfg.DataDir, cfg.OfflineRetention.Std(),
		func(mount string) time.Duration { return cfg.VolumeFor(mount).ReconcileInterval.Std() },
		reg.TriggerReconcile)
	reg.SetReconciler(rec)

	executor := query.NewExecutor(st)
	ipcServer := ipc.NewServer(executor, reg.Status, reg.TriggerRebuild)

	return &Service{
		cfg:       cfg,
		st:        st,
		broker:    broker,
		app:       app,
		reg:       reg,
		rec:       rec,
		ipcServer: ipcServer,
		collector: metrics.NewCollector(st),
		logger:    log.WithComponent("service"),
	}, nil
}

// Run starts every subsystem, blocks until ctx cancels, then shuts
// down in reverse order
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Str("data_dir", s.cfg.DataDir).Msg("BRindeX core starting")

	s.broker.Start()
	// One place narrates the lifecycle: every state transition, swap
	// and demotion flows through the broker into the host's log sink
	lifecycle := s.broker.Subscribe()
	go func() {
		for ev := range lifecycle {
			s.logger.Info().
				Str("event", string(ev.Type)).
				Str("volume_id", ev.VolumeID).
				Str("mount", ev.Mount).
				Str("state", string(ev.State)).
				Msg("Volume lifecycle")
		}
	}()

	s.app.Start(ctx)

	if err := s.reg.Start(ctx); err != nil {
		return fmt.Errorf("registry start failed: %w", err)
	}
	s.rec.Start(ctx)
	s.collector.Start()

	if err := s.ipcServer.Start(ctx, s.cfg.DataDir); err != nil {
		return fmt.Errorf("ipc start failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.MetricsAddr != "" {
		g.Go(func() error { return s.serveMetrics(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()

	s.logger.Info().Msg("Shutting down")
	s.ipcServer.Stop()
	s.collector.Stop()
	s.rec.Stop()
	s.reg.Stop()
	s.app.Stop()
	s.broker.Unsubscribe(lifecycle)
	s.broker.Stop()
	if cerr := s.st.Close(); cerr != nil {
		s.logger.Error().Err(cerr).Msg("Store close failed")
	}
	s.logger.Info().Msg("BRindeX core stopped")
	return err
}

func (s *Service) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.cfg.MetricsAddr).Msg("Metrics listener started")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
