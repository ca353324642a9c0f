package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/ai"
	"github.com/feedpilot/feedpilot/internal/browser/chromedriver"
	"github.com/feedpilot/feedpilot/internal/config"
	"github.com/feedpilot/feedpilot/internal/engine"
	"github.com/feedpilot/feedpilot/internal/health"
	"github.com/feedpilot/feedpilot/internal/history"
	"github.com/feedpilot/feedpilot/internal/httpapi"
	"github.com/feedpilot/feedpilot/internal/humantype"
	"github.com/feedpilot/feedpilot/internal/pacing"
	"github.com/feedpilot/feedpilot/internal/platform/douyin"
	"github.com/feedpilot/feedpilot/internal/platform/xhs"
	"github.com/feedpilot/feedpilot/internal/rules"
	"github.com/feedpilot/feedpilot/internal/settings"
	"github.com/feedpilot/feedpilot/internal/storage"
	"github.com/feedpilot/feedpilot/internal/streaming"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file (defaults to $CONFIG_PATH)")
	flag.Parse()
	if *configPath == "" {
		// Resolved here so the hot-reload watcher knows the file too.
		*configPath = os.Getenv("CONFIG_PATH")
	}

	mgr, err := config.NewManager(*configPath, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Current()

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(mgr, logger); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
}

func run(mgr *config.Manager, logger *zap.Logger) error {
	cfg := mgr.Current()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	kv, err := storage.NewKV(db, logger)
	if err != nil {
		return fmt.Errorf("init kv store: %w", err)
	}
	hist, err := history.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("init history store: %w", err)
	}
	// Sessions interrupted by a crash are still marked running.
	if fixed, err := hist.FixAbnormalRecords(ctx); err != nil {
		logger.Warn("Failed to repair interrupted task records", zap.Error(err))
	} else if fixed > 0 {
		logger.Info("Repaired interrupted task records", zap.Int64("count", fixed))
	}

	healthCheckers := []health.Checker{health.NewDatabaseChecker(db)}

	events := streaming.NewManager(cfg.Streaming.BufferCapacity)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable, event mirroring disabled", zap.Error(err))
		} else {
			events.SetMirror(streaming.NewRedisMirror(client, cfg.Redis.StreamPrefix, cfg.Redis.StreamMaxLen, logger))
			healthCheckers = append(healthCheckers, health.NewRedisChecker(client))
			defer client.Close()
		}
	}

	stores := map[string]*settings.Store{
		"douyin": settings.NewStore(kv, storage.KeySettingDouyin, logger),
		"xhs":    settings.NewStore(kv, storage.KeySettingXHS, logger),
	}

	var classifier rules.Classifier
	if cfg.AI.BaseURL != "" {
		classifier = ai.NewClassifier(cfg.AI, logger)
	} else {
		logger.Info("AI classifier disabled, ai rule groups will never match")
	}

	registry := engine.NewRegistry(logger)
	factory := sessionFactory(mgr, kv, hist, events, classifier, logger)

	checker := health.NewManager(logger, healthCheckers...)
	api := httpapi.NewServer(registry, factory, stores, hist, events, checker, logger)
	mux := api.Routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays zero: SSE and WebSocket connections are
		// long-lived.
	}

	mgr.OnChange(func(config.Config) {
		logger.Info("Configuration reloaded, new sessions pick up the changes")
	})
	if err := mgr.Start(); err != nil {
		logger.Warn("Configuration watch unavailable", zap.Error(err))
	}
	defer mgr.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	registry.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// sessionFactory builds sessions from the live configuration so reloaded
// settings apply to each new task without a restart.
func sessionFactory(mgr *config.Manager, kv *storage.KV, hist *history.Store, events *streaming.Manager, classifier rules.Classifier, logger *zap.Logger) httpapi.SessionFactory {
	return func(_ context.Context, platform string, s settings.Settings) (*engine.Session, error) {
		cfg := mgr.Current()

		chromeCfg := cfg.Browser.Chrome
		if chromeCfg.UserDataDir == "" && cfg.Browser.ProfileRoot != "" {
			// Separate profiles keep each platform's login session isolated.
			chromeCfg.UserDataDir = filepath.Join(cfg.Browser.ProfileRoot, platform)
		}
		driver := chromedriver.New(chromeCfg, logger)
		typer := humantype.New(humantype.Options{})
		pacer := pacing.New()

		var plat engine.Platform
		cls := classifier
		switch platform {
		case "douyin":
			plat = douyin.New(driver, kv, typer, pacer, cfg.Douyin, s, logger)
		case "xhs":
			plat = xhs.New(driver, kv, typer, pacer, cfg.XHS, s, logger)
			// Xiaohongshu has no AI rule-group support; those groups
			// never match there.
			cls = nil
		default:
			return nil, fmt.Errorf("unknown platform %q", platform)
		}

		return engine.NewSession(engine.Config{
			Platform:        plat,
			Settings:        s,
			Matcher:         rules.NewMatcher(cls, logger),
			Pacer:           pacer,
			Limiter:         pacing.NewCommentLimiter(cfg.Engine.CommentInterval, cfg.Engine.CommentBurst),
			Recorder:        hist,
			Events:          events,
			Seen:            kv,
			Logger:          logger,
			LikeProbability: cfg.Engine.LikeProbability,
			EmptyFeedWait:   cfg.Engine.EmptyFeedWait,
		})
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
