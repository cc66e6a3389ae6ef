package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dermatrack/api/config"
	v1 "github.com/dermatrack/api/internal/handler/v1"
	"github.com/dermatrack/api/internal/predictor"
	"github.com/dermatrack/api/internal/repository"
	"github.com/dermatrack/api/internal/service"
	"github.com/dermatrack/api/internal/storage"
	"github.com/dermatrack/api/pkg/auth"
	"github.com/dermatrack/api/pkg/database"
	"github.com/dermatrack/api/pkg/logger"
	"github.com/dermatrack/api/pkg/metrics"
	"github.com/dermatrack/api/pkg/tracer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.Migrate(db, log); err != nil {
		return err
	}

	store, err := newImageStore(cfg, log)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("dermatrack", prometheus.DefaultRegisterer)
	jwtManager := auth.NewJWTManager(cfg.JWT)

	patientRepo := repository.NewPatientRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	auditSvc := service.NewAuditService(auditRepo, log)
	classifier := predictor.NewClient(cfg.Predictor, log)
	patientSvc := service.NewPatientService(patientRepo, store, classifier, auditSvc, log, cfg.Storage.PlaceholderImage)
	authSvc := service.NewAuthService(userRepo, jwtManager, log)

	router := v1.NewRouter(
		cfg,
		log,
		collector,
		jwtManager,
		v1.NewAuthHandler(authSvc, cfg.JWT, log),
		v1.NewPatientHandler(patientSvc, store, collector, log),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	auditSvc.Shutdown()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}

	log.Info("stopped")
	return nil
}

func newImageStore(cfg *config.Config, log *zap.Logger) (storage.ImageStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageS3:
		return storage.NewS3Store(context.Background(), cfg.Storage, log)
	default:
		return storage.NewLocalStore(cfg.Storage.UploadDir, cfg.Storage.MaxUploadBytes, log)
	}
}
