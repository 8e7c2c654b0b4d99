package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	app "github.com/openimaging/upsd"
	"github.com/openimaging/upsd/internal/archive"
	"github.com/openimaging/upsd/internal/config"
	"github.com/openimaging/upsd/internal/server"
	"github.com/openimaging/upsd/internal/store"
	"github.com/openimaging/upsd/internal/worklist"
	"github.com/openimaging/upsd/pkg/api"
	"github.com/openimaging/upsd/pkg/log"
)

type upsd struct {
	cfg        *config.Config
	redis      *redis.Client
	workitems  store.WorkitemRepository
	subs       store.SubscriptionRepository
	archiver   *archive.BlobArchiver
	service    *worklist.Service
	apiServer  *server.Server
	httpServer *http.Server
	quit       chan os.Signal
}

var (
	ErrConnectRedis = errors.New("failed to connect to redis")
	ErrOpenArchive  = errors.New("failed to open archive bucket")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &upsd{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *upsd) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}

	s.initializeService()
	if err := s.restoreSubscriptions(); err != nil {
		return err
	}
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *upsd) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Worklist service starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("store", s.cfg.StoreBackend),
		slog.String("redis_addr", s.cfg.RedisAddr),
		slog.Int("redis_db", s.cfg.RedisDB),
		slog.String("archive_bucket", s.cfg.ArchiveBucketURL),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *upsd) initializeStores() error {
	switch s.cfg.StoreBackend {
	case config.StoreRedis:
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		if err := s.redis.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectRedis, err)
		}
		rs := store.NewRedisStore(s.redis, s.cfg.RedisPrefix)
		s.workitems = rs
		s.subs = rs
	default:
		ms := store.NewMemoryStore()
		s.workitems = ms
		s.subs = ms
	}

	if s.cfg.ArchiveBucketURL != "" {
		archiver, err := archive.NewBlobArchiver(
			context.Background(),
			s.cfg.ArchiveBucketURL, s.cfg.ArchivePrefix,
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
		s.archiver = archiver
	}
	return nil
}

func (s *upsd) initializeService() {
	registry := worklist.NewRegistry(s.cfg.SubscriberQueueSize)
	var archiver worklist.Archiver
	if s.archiver != nil {
		archiver = s.archiver
	}
	s.service = worklist.NewService(s.workitems, s.subs, registry, archiver)
	s.service.Start()
}

// restoreSubscriptions reloads persisted subscriptions into the registry
// so a restarted service keeps delivering to returning subscribers
func (s *upsd) restoreSubscriptions() error {
	subs, err := s.subs.All(context.Background())
	if err != nil {
		return err
	}
	registry := s.service.Registry()
	for _, sub := range subs {
		registry.Subscribe(sub)
	}
	if len(subs) > 0 {
		slog.Info("Subscriptions restored",
			slog.Int("count", len(subs)))
	}
	return nil
}

func (s *upsd) startServer() {
	s.apiServer = server.NewServer(s.service)
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *upsd) shutdown() {
	slog.Info("Shutting down")

	// Subscriptions survive a restart on redis but not in memory; the
	// status change report tells subscribers which case they are in
	listStatus := api.ListColdStart
	if s.cfg.StoreBackend == config.StoreRedis {
		listStatus = api.ListWarmStart
	}
	s.service.NotifyShutdown(listStatus, listStatus)

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()
	s.service.Stop()

	if s.archiver != nil {
		if err := s.archiver.Close(); err != nil {
			slog.Error("Archive close failed", log.Error(err))
		}
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}

	slog.Info("Server exited")
}
