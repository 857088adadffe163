package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/config"
	"chatsync/internal/constants"
	"chatsync/internal/events"
	"chatsync/internal/metrics"
	"chatsync/internal/processor"
	"chatsync/internal/retry"
	"chatsync/internal/service"
	"chatsync/internal/tracing"
	"chatsync/pkg/realtime"
	"chatsync/pkg/remote"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("ChatSync %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting ChatSync")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
	} else {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	// Initialize OpenTelemetry tracing
	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Open the message cache with exponential backoff retry; a locked
	// database file on startup usually means a previous instance is still
	// shutting down.
	var store *cache.Cache
	backoff := retry.NewBackoff(retry.BackoffConfig{
		BaseDelay:     time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxAttempts:   constants.DefaultCacheOpenAttempts,
	})
	err = backoff.Retry(ctx, func() error {
		var openErr error
		store, openErr = cache.New(cfg.Cache.Path)
		if openErr != nil {
			logger.Warnf("Failed to open message cache: %v", openErr)
		}
		return openErr
	})
	if err != nil {
		return fmt.Errorf("failed to open message cache after retries: %w", err)
	}
	defer store.Close()

	remoteClient := remote.NewClient(remote.ClientOptions{
		BaseURL:   cfg.Remote.BaseURL,
		Database:  cfg.Remote.Database,
		AuthToken: cfg.Remote.AuthToken,
		Timeout:   time.Duration(cfg.Remote.TimeoutSec) * time.Second,
	})

	transport := realtime.NewClient(realtime.Options{
		URL:          cfg.Realtime.URL,
		AuthToken:    cfg.Realtime.AuthToken,
		WriteTimeout: time.Duration(cfg.Realtime.WriteTimeoutSec) * time.Second,
		Logger:       logger,
	})

	registry := metrics.NewRegistry()
	bus := events.NewBus()
	proc := processor.New()
	queue := service.NewSyncQueue()

	uploadBackoff := retry.NewBackoff(retry.FromRetryConfig(cfg.Retry))
	uploader := service.NewUploader(store, remoteClient, queue, uploadBackoff, bus, registry, logger)

	loader := service.NewHistoryLoader(store, remoteClient, proc, service.LoaderConfig{
		InitialSize:  cfg.Sync.InitialLoadSize,
		MoreSize:     cfg.Sync.LoadMoreSize,
		PrefetchSize: cfg.Sync.PrefetchSize,
	}, registry, logger)

	syncInterval := time.Duration(cfg.Sync.IntervalSec) * time.Second
	syncService := service.NewSyncService(store, remoteClient, proc, queue, uploader, syncInterval, registry, logger)

	breaker := service.NewCircuitBreaker("realtime-send",
		cfg.Breaker.FailureThreshold,
		time.Duration(cfg.Breaker.CooldownMs)*time.Millisecond,
		logger,
	)

	chatService := service.NewChatService(service.ChatServiceOptions{
		Store:      store,
		Transport:  transport,
		Loader:     loader,
		SyncSvc:    syncService,
		Processor:  proc,
		Queue:      queue,
		Uploader:   uploader,
		Breaker:    breaker,
		Bus:        bus,
		Registry:   registry,
		Logger:     logger,
		AuthorID:   cfg.AuthorID,
		AuthorName: cfg.AuthorName,
	})

	if err := chatService.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize chat service: %w", err)
	}
	defer chatService.Close()

	if err := syncService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync service: %w", err)
	}
	defer syncService.Stop()

	scheduler := service.NewRetentionScheduler(store, cfg.Cache.RetentionDays, constants.RetentionSweepHours, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	server := NewServer(cfg, chatService, registry, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}
