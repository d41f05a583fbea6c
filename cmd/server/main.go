package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/margindev/margin/api"
	"github.com/margindev/margin/internal/config"
	"github.com/margindev/margin/internal/db"
	"github.com/margindev/margin/internal/slogging"
)

func main() {
	configFile := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            slogging.ParseLogLevel(cfg.Logging.Level),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logger := slogging.Get()
	defer func() {
		if err := logger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
		}
	}()

	if err := run(cfg); err != nil {
		logger.Error("Server exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := slogging.Get()

	postgres, err := db.NewPostgresDB(db.PostgresConfig{
		Host:     cfg.Database.Postgres.Host,
		Port:     cfg.Database.Postgres.Port,
		User:     cfg.Database.Postgres.User,
		Password: cfg.Database.Postgres.Password,
		Database: cfg.Database.Postgres.Database,
		SSLMode:  cfg.Database.Postgres.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer func() {
		if err := postgres.Close(); err != nil {
			logger.Error("Failed to close postgres: %v", err)
		}
	}()

	redisDB, err := db.NewRedisDB(db.RedisConfig{
		Host:     cfg.Database.Redis.Host,
		Port:     cfg.Database.Redis.Port,
		Password: cfg.Database.Redis.Password,
		DB:       cfg.Database.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer func() {
		if err := redisDB.Close(); err != nil {
			logger.Error("Failed to close redis: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB := postgres.GetDB()

	emitter := api.NewEventEmitter(redisDB.GetClient(), cfg.Events.StreamKey)
	txManager := api.NewTxManager(sqlDB, emitter)

	store := api.NewDatabaseAnnotationStore(sqlDB)
	index := api.NewPostgresSearchIndex(sqlDB)
	go index.StartIndexer(ctx)

	presenter := api.NewAnnotationJSONService(store)
	writer := api.NewAnnotationWriteService(store, index, txManager)
	deleter := api.NewAnnotationDeleteService(store, index)

	handler := api.NewAnnotationHandler(writer, deleter, store, index, presenter, cfg.Server.DevMode)
	server := api.NewServer(handler, store, cfg.Auth.JWT.Secret)

	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.LoggerMiddleware())
	router.Use(api.MetricsMiddleware())

	server.RegisterRoutes(router)
	api.RegisterMetricsRoute(router)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Interface, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server on %s (dev_mode: %t)", addr, cfg.Server.DevMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
