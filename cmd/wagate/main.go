package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wagate/internal/config"
	"wagate/internal/constants"
	"wagate/internal/database"
	"wagate/internal/queue"
	"wagate/internal/retry"
	"wagate/internal/service"
	"wagate/internal/tracing"
	"wagate/pkg/wasocket"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wagate %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wagate")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// the database file may live on shared storage that comes up after us
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	if cfg.Seed.TenantToken != "" {
		name := cfg.Seed.TenantName
		if name == "" {
			name = "default"
		}
		tenant, err := db.EnsureSeedTenant(ctx, name, cfg.Seed.TenantToken)
		if err != nil {
			return fmt.Errorf("failed to seed tenant: %w", err)
		}
		logger.WithField("tenantId", tenant.ID).Info("Seed tenant ready")
	}

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	engineClient := wasocket.NewClient(cfg.Socket.EngineBaseURL, cfg.Socket.APIKey,
		time.Duration(cfg.Socket.HTTPTimeoutSec)*time.Second)
	dialer := wasocket.NewDialer(engineClient, time.Duration(cfg.Socket.PollIntervalSec)*time.Second)

	registry := service.NewRegistry()
	sink := service.NewLogSink(logger)

	sessionManager := service.NewSessionManager(db, dialer, registry, sink, logger, service.SessionManagerOptions{
		ConnectTimeout:       time.Duration(cfg.Socket.ConnectTimeoutSec) * time.Second,
		ReconnectBaseDelay:   constants.DefaultReconnectBaseDelaySec * time.Second,
		MaxReconnectAttempts: constants.DefaultMaxReconnectAttempts,
	})
	defer sessionManager.Stop()

	messageService := service.NewMessageService(db, db, registry, q, logger, service.MessageServiceOptions{
		SendMaxAttempts:   constants.DefaultSendMaxAttempts,
		SendBackoffSec:    constants.DefaultSendBackoffSec,
		DeleteMaxAttempts: constants.DefaultDeleteMaxAttempts,
		DeleteBackoffSec:  constants.DefaultDeleteBackoffSec,
		DeleteWindow:      constants.DefaultDeleteWindowHours * time.Hour,
	})

	webhookService := service.NewWebhookService(db, db, q, logger, service.WebhookServiceOptions{
		Production:        config.IsProduction(),
		DefaultMaxRetries: cfg.Webhook.MaxRetries,
		DeliverBackoffSec: cfg.Webhook.BackoffSec,
	})

	outboundWorker := service.NewOutboundWorker(db, registry, webhookService, logger)
	outboundWorker.Register(q)

	webhookWorker := service.NewWebhookWorker(db, logger, service.WebhookWorkerOptions{
		TimeoutSec:       cfg.Webhook.TimeoutSec,
		BackoffSec:       cfg.Webhook.BackoffSec,
		FailureThreshold: cfg.Webhook.FailureThreshold,
	})
	webhookWorker.Register(q)

	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}
	defer q.Stop()

	if err := sessionManager.RehydrateAll(ctx); err != nil {
		logger.Warnf("Session rehydration failed: %v", err)
	}

	server := NewServer(cfg, db, sessionManager, messageService, webhookService, webhookWorker, logger)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown error: %v", err)
	}
	logger.Info("Shutdown complete")
	return nil
}
