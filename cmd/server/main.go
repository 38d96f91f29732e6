package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"duet/backend/internal/account"
	"duet/backend/internal/config"
	"duet/backend/internal/database"
	"duet/backend/internal/handler"
	"duet/backend/internal/hub"
	"duet/backend/internal/journal"
	"duet/backend/internal/logger"
	"duet/backend/internal/metrics"
	"duet/backend/internal/reaper"
	"duet/backend/internal/relationship"
	"duet/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	// Swagger imports
	_ "duet/backend/docs" // This is important for swag to find the generated docs

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const shutdownTimeout = 10 * time.Second

// @title           Duet API
// @version         1.0
// @description     This is the API for the Duet relationship journal.
// @host            localhost:8080
// @BasePath        /api/v1
// @securityDefinitions.apiKey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, appLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	appLogger.Info("database connection successful", zap.String("driver", cfg.DatabaseDriver))

	store, err := newObjectStore(ctx, cfg, appLogger)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	appMetrics := metrics.New(registry)
	eventHub := hub.NewHub(appLogger.Named("hub"))

	relationships := relationship.NewService(db, appLogger.Named("relationship"), relationship.WithPublisher(eventHub))
	accounts := account.NewService(db, relationships, appLogger.Named("account"), cfg.JWTSecret)
	posts := journal.NewService(db, store, appLogger.Named("journal"), journal.WithPublisher(eventHub))
	sweeper := reaper.New(db, store, appLogger.Named("reaper"),
		reaper.WithMetrics(appMetrics),
		reaper.WithOrphanMinAge(cfg.OrphanMinAge))

	scheduler := reaper.NewScheduler(appLogger.Named("scheduler"), appMetrics)
	if err := scheduler.Add("relationship_reaper", cfg.ReaperSchedule, sweeper.SweepJob); err != nil {
		return err
	}
	if err := scheduler.Add("orphaned_attachments", cfg.OrphanSchedule, sweeper.OrphanJob); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	gin.SetMode(cfg.GinMode)
	h := handler.New(handler.Deps{
		Accounts:      accounts,
		Relationships: relationships,
		Journal:       posts,
		Reaper:        sweeper,
		Hub:           eventHub,
		Logger:        appLogger.Named("http"),
		Metrics:       appMetrics,
		Gatherer:      registry,
		JWTSecret:     cfg.JWTSecret,
		AdminToken:    cfg.AdminToken,
		AppBaseURL:    cfg.AppBaseURL,
	})
	router := h.Router()

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	server := newHTTPServer(ctx, ":"+cfg.Port, router)

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("server is running", zap.String("addr", server.Addr))
		appLogger.Info("swagger UI is available", zap.String("url", "http://localhost:"+cfg.Port+"/swagger/index.html"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	appLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// newHTTPServer derives every request context from ctx, so open event streams
// end as soon as shutdown starts instead of holding it until the timeout.
func newHTTPServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config, appLogger *zap.Logger) (storage.ObjectStore, error) {
	if !cfg.StorageEnabled() {
		appLogger.Warn("S3_BUCKET is not set, attachments are kept in memory")
		return storage.NewMemoryStore(), nil
	}
	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	appLogger.Info("attachment storage ready", zap.String("bucket", cfg.S3Bucket))
	return store, nil
}
