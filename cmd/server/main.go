// Command server starts the attendance integrity API.
//
// Usage:
//
//	go run ./cmd/server [flags]
//
// Flags:
//
//	-config  Path to a TOML, YAML or JSON config file (default: $CONFIG_PATH)
//
// Without a config file the server runs fully in memory on port 8080.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/api"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/checkin"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/config"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/events"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/ipgeo"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/scoring"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store/postgres"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store/redisstore"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/timewindow"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Wire dependencies ─────────────────────────────────────────────────────
	backends, closeStores, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	offset := &timewindow.Offset{}
	engine := scoring.New(cfg.EngineSettings(), scoring.WithOffset(offset))

	publisher, err := openPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	opts := []checkin.Option{
		checkin.WithLogger(logger),
		checkin.WithPublisher(publisher),
		checkin.WithHistoryWindow(cfg.Storage.HistoryWindow),
		checkin.WithPublishTimeout(cfg.Events.PublishTimeout),
	}
	if cfg.GeoIP.CityDBPath != "" {
		resolver, err := ipgeo.Open(cfg.GeoIP.CityDBPath, cfg.GeoIP.CacheSize)
		if err != nil {
			return fmt.Errorf("open geoip database: %w", err)
		}
		defer resolver.Close()
		opts = append(opts, checkin.WithLocator(resolver))
		logger.Info("network location cross check enabled", "db", cfg.GeoIP.CityDBPath)
	}
	svc := checkin.New(engine, backends, opts...)

	calibrator := timewindow.NewCalibrator(offset, backends.Attempts, cfg.ClockSettings(), logger)
	if err := calibrator.Start(); err != nil {
		return err
	}
	defer calibrator.Stop()

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *configPath != "" {
		loader.OnChange(func(next *config.Config) {
			engine.UpdateSettings(next.EngineSettings())
			calibrator.SetMaxOffset(next.ClockSettings().MaxOffset)
			logger.Info("engine settings reloaded", "path", *configPath)
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("config watch disabled", "path", *configPath, "error", err)
		} else {
			defer loader.Close()
			go func() {
				for err := range loader.Errors() {
					logger.Error("config reload rejected", "error", err)
				}
			}()
		}
	}

	// ── Start HTTP server ─────────────────────────────────────────────────────
	router := api.NewRouter(api.NewHandler(svc), api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "port", cfg.Server.Port, "config", *configPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStores starts from memory for every port and moves devices and attempts
// to Redis, sessions and alerts to Postgres, when those are configured.
func openStores(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.Backends, func(), error) {
	mem := store.NewMemory()
	backends := store.MemoryBackends(mem)
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.RedisURI != "" {
		rdb, err := redisstore.Connect(ctx, cfg.RedisURI)
		if err != nil {
			closeAll()
			return store.Backends{}, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		rs := redisstore.New(rdb, cfg.RedisPrefix, cfg.AttemptRetention)
		backends.Devices = rs
		backends.Attempts = rs
		logger.Info("redis store enabled", "prefix", cfg.RedisPrefix)
	} else {
		// Redis expires attempts itself; memory needs a sweep.
		sweeper := cron.New()
		if err := sweeper.AddFunc("@every 1h", func() {
			n := mem.PruneAttempts(time.Now().Add(-cfg.AttemptRetention))
			logger.Debug("pruned attempts", "count", n)
		}); err != nil {
			closeAll()
			return store.Backends{}, nil, fmt.Errorf("schedule attempt pruning: %w", err)
		}
		sweeper.Start()
		closers = append(closers, sweeper.Stop)
	}

	if cfg.PostgresURI != "" {
		pg, err := postgres.Open(ctx, cfg.PostgresURI)
		if err != nil {
			closeAll()
			return store.Backends{}, nil, err
		}
		closers = append(closers, func() { _ = pg.Close() })
		if err := pg.Migrate(ctx); err != nil {
			closeAll()
			return store.Backends{}, nil, err
		}
		backends.Sessions = pg
		backends.Alerts = pg
		logger.Info("postgres store enabled")
	}

	return backends, closeAll, nil
}

// openPublisher fans alert events out to every configured sink.
func openPublisher(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	var sinks events.Multi
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic))
		logger.Info("kafka alert sink enabled", "topic", cfg.KafkaTopic)
	}
	if cfg.AMQPURL != "" {
		q, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, q)
		logger.Info("amqp alert sink enabled", "queue", cfg.AMQPQueue)
	}
	if len(cfg.WebhookURLs) > 0 {
		sinks = append(sinks, events.NewWebhook(cfg.WebhookURLs, cfg.WebhookMinSeverity))
		logger.Info("webhook alert sink enabled", "targets", len(cfg.WebhookURLs), "min_severity", cfg.WebhookMinSeverity)
	}
	if len(sinks) == 0 {
		return events.Noop{}, nil
	}
	return sinks, nil
}
