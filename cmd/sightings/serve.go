package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/sightings/internal/admin"
	"github.com/Veraticus/sightings/internal/config"
	"github.com/Veraticus/sightings/internal/controller"
	"github.com/Veraticus/sightings/internal/matcher"
	"github.com/Veraticus/sightings/internal/metrics"
	"github.com/Veraticus/sightings/internal/queue"
	"github.com/Veraticus/sightings/internal/session"
	"github.com/Veraticus/sightings/internal/storage"
	"github.com/Veraticus/sightings/internal/transport"
)

const (
	// shutdownTimeout bounds how long queued work may take to drain.
	shutdownTimeout = 30 * time.Second

	limiterPruneInterval = 10 * time.Minute
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sighting conversation service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadEffective(flags.configPath, flags.envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := cfg.Log.NewLogger(os.Stderr)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", slog.Any("error", err))
		}
	}()

	reg := storage.NewRegistry(store)
	plates, err := reg.Count(ctx)
	if err != nil {
		return fmt.Errorf("count registry: %w", err)
	}
	if plates == 0 {
		logger.Warn("Registry is empty; run 'sightings registry import' first")
	}
	sightings := storage.NewSightings(store)

	sessions := session.NewManager(cfg.Session.Timeout.Std(),
		session.WithPersistence(storage.NewSessionPersistence(store)))
	restored, err := sessions.RestoreSessions(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	m := metrics.New()
	m.RegisterSessionGauges(sessions.Stats)

	messenger, closeTransport, err := openTransport(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	ctl, err := controller.New(sessions, reg, sightings, messenger,
		controller.WithRecorder(m),
		controller.WithMatchOptions(matcher.Options{
			Limit:           cfg.Matcher.MaxCandidates,
			ActiveOnly:      cfg.Matcher.ActiveOnly,
			FiskerOnly:      cfg.Matcher.FiskerOnly,
			ExpandShortForm: cfg.Matcher.ExpandShortForm,
		}),
		controller.WithRegistryTimeout(cfg.Matcher.RegistryTimeout.Std()),
		controller.WithDedupWindow(cfg.Session.DedupWindow),
	)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	limiter := queue.NewIdentityLimiter(cfg.Queue.Rate, cfg.Queue.Burst)
	queueManager := queue.NewManager(gctx, queue.WithRateLimiter(limiter))
	m.RegisterQueueGauges(queueManager.Stats)

	panics := queue.NewMetricsPanicHandler(queue.NewDefaultPanicHandler(), m.ObservePanic)
	pool, err := queue.NewWorkerPool(cfg.Queue.Workers, queueManager, ctl, panics)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	handler, err := transport.NewHandler(messenger, queueManager, transport.WithRecorder(m))
	if err != nil {
		return fmt.Errorf("create transport handler: %w", err)
	}

	cleanupOpts := []session.CleanupOption{session.WithInterval(cfg.Session.CleanupInterval.Std())}
	if cfg.Session.CleanupSchedule != "" {
		cleanupOpts = append(cleanupOpts, session.WithSchedule(cfg.Session.CleanupSchedule))
	}
	cleanup, err := session.NewCleanupService(sessions, cleanupOpts...)
	if err != nil {
		return fmt.Errorf("create cleanup service: %w", err)
	}

	adminServer, err := admin.NewServer(ctl,
		admin.WithRegistry(reg),
		admin.WithSightings(sightings),
		admin.WithMetrics(m.Handler()),
		admin.WithHealthCheck("storage", func(context.Context) error { return store.Ping() }),
		admin.WithToken(cfg.Admin.Token),
	)
	if err != nil {
		return fmt.Errorf("create admin server: %w", err)
	}

	logger.InfoContext(ctx, "Sightings ready",
		slog.String("version", version),
		slog.Int("registry_plates", plates),
		slog.Int("restored_sessions", restored),
		slog.Int("workers", pool.Size()),
		slog.String("admin_addr", cfg.Admin.Addr))

	g.Go(func() error {
		queueManager.Start()
		return nil
	})
	pool.Start(gctx)

	if err := cleanup.Start(gctx); err != nil {
		return fmt.Errorf("start cleanup: %w", err)
	}
	defer cleanup.Stop()

	g.Go(func() error { return handler.Start(gctx) })
	g.Go(func() error { return adminServer.ListenAndServe(gctx, cfg.Admin.Addr) })
	g.Go(func() error {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Prune(); n > 0 {
					logger.DebugContext(gctx, "Pruned idle rate limiters", slog.Int("count", n))
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		if err := queueManager.Shutdown(shutdownTimeout); err != nil {
			logger.Warn("Queue shutdown incomplete", slog.Any("error", err))
		}
		pool.Wait()
		return nil
	})

	return g.Wait()
}

// openTransport dials the configured NATS server, starting an embedded one
// first when asked to.
func openTransport(cfg config.NATSConfig, logger *slog.Logger) (*transport.NATSMessenger, func(), error) {
	url := cfg.URL
	shutdownServer := func() {}

	if cfg.Embedded {
		ns, err := transport.StartEmbeddedNATS(cfg.Host, cfg.Port)
		if err != nil {
			return nil, nil, err
		}
		url = ns.ClientURL()
		shutdownServer = ns.Shutdown
		logger.Info("Embedded NATS server started", slog.String("url", url))
	}

	messenger, err := transport.DialNATS(url, cfg.Prefix, transport.WithNATSLogger(logger))
	if err != nil {
		shutdownServer()
		return nil, nil, err
	}

	logger.Info("Connected to NATS",
		slog.String("inbound", messenger.InboundSubject()),
		slog.String("outbound", messenger.OutboundSubject()))

	return messenger, func() {
		if err := messenger.Close(); err != nil {
			logger.Warn("Failed to close NATS connection", slog.Any("error", err))
		}
		shutdownServer()
	}, nil
}
