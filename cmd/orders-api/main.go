package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/orders-api/api/swagger"
	"github.com/noah-isme/orders-api/internal/callback"
	"github.com/noah-isme/orders-api/internal/handler"
	"github.com/noah-isme/orders-api/internal/middleware"
	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/internal/repository"
	"github.com/noah-isme/orders-api/internal/service"
	"github.com/noah-isme/orders-api/pkg/cache"
	"github.com/noah-isme/orders-api/pkg/config"
	"github.com/noah-isme/orders-api/pkg/database"
	"github.com/noah-isme/orders-api/pkg/jobs"
	"github.com/noah-isme/orders-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/orders-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/orders-api/pkg/middleware/requestid"
	"github.com/noah-isme/orders-api/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

// @title Orders API
// @version 1.0.0
// @description Order preparation, ticket protected downloads and bulk deletion.
// @BasePath /api
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	metrics := service.NewMetricsService()
	checks := map[string]handler.ReadinessCheck{}

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	checks["storage"] = func(ctx context.Context) error {
		_, err := backend.Exists(ctx, cfg.Orders.Root)
		return err
	}

	var store jobs.StateStore = repository.NewMemoryTaskStateRepository(cfg.Tasks.CacheSize, cfg.Tasks.ResultTTL)
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		redisStore := repository.NewTaskStateRepository(client, cfg.Tasks.ResultTTL, logr.Named("task_state"))
		defer redisStore.Close() //nolint:errcheck
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		store = redisStore
	}

	var events middleware.EventRecorder
	if cfg.Database.Enabled {
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck
		repo, err := newEventRepository(ctx, db)
		if err != nil {
			return err
		}
		events = repo
		checks["database"] = db.PingContext
	}

	dispatcher := jobs.NewDispatcher(store, jobs.QueueConfig{
		Workers:    cfg.Tasks.Workers,
		MaxRetries: cfg.Tasks.Retries,
		RetryDelay: cfg.Tasks.RetryDelay,
		Logger:     logr.Named("tasks"),
	})

	tickets := service.NewTicketService(backend, metrics, logr.Named("tickets"), cfg.Tickets.MaxAttempts)
	orders := service.NewOrderService(backend, tickets, dispatcher, validator.New(), metrics, logr.Named("orders"), service.OrderServiceConfig{
		OrdersRoot: cfg.Orders.Root,
		LocalRoot:  cfg.Orders.LocalDir,
		PublicHost: cfg.Orders.PublicHost,
		APIPrefix:  cfg.APIPrefix,
	})
	downloads := service.NewDownloadService(backend, tickets, metrics, logr.Named("downloads"), cfg.Orders.Root)
	auth := service.NewAuthService(logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
	})

	notifier := callback.New(callback.Config{
		URL:     cfg.Callback.URL,
		Token:   cfg.Callback.Token,
		Timeout: cfg.Callback.Timeout,
	}, logr)
	deleter := service.NewDeleteOrdersWorker(backend, notifier, metrics, logr.Named("delete_orders"), cfg.Orders.DeleteItemTimeout)
	preparer := service.NewPrepareOrderWorker(nil, cfg.Tasks.Retries, logr.Named("prepare_order"))
	dispatcher.Register(models.TaskDeleteOrders, deleter.Run)
	dispatcher.Register(models.TaskPrepareOrder, preparer.Run)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		orders: handler.NewOrderHandler(orders, downloads),
		tasks:  handler.NewTaskHandler(dispatcher),
		auth:   auth,
		events: events,
		logger: logr,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logr.Info("server stopped")
	return nil
}

type routeDeps struct {
	orders *handler.OrderHandler
	tasks  *handler.TaskHandler
	auth   middleware.TokenValidator
	events middleware.EventRecorder
	logger *zap.Logger
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	event := func(action string) gin.HandlerFunc {
		return middleware.OrderEvents(deps.events, action, deps.logger)
	}

	api.GET("/orders/:order_id/download/:ftype/c/:code", event(models.OrderEventDownload), deps.orders.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.auth))
	secured.POST("/orders", event(models.OrderEventPrepare), deps.orders.Prepare)
	secured.DELETE("/orders", event(models.OrderEventDelete), deps.orders.Delete)
	secured.GET("/orders/:order_id", event(models.OrderEventList), deps.orders.List)
	secured.PUT("/orders/:order_id", event(models.OrderEventLinks), deps.orders.IssueLinks)
	secured.GET("/tasks/:id", deps.tasks.Get)
}

func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	signer := storage.NewTicketSigner(cfg.Tickets.Secret, cfg.Tickets.TTL)
	switch cfg.Storage.Backend {
	case config.StorageBackendS3:
		s3Cfg := storage.S3Config{
			Bucket:   cfg.Storage.S3Bucket,
			Region:   cfg.Storage.S3Region,
			Endpoint: cfg.Storage.S3Endpoint,
			Prefix:   cfg.Storage.S3Prefix,
		}
		client, err := storage.NewS3Client(ctx, s3Cfg)
		if err != nil {
			return nil, err
		}
		return storage.NewS3Backend(client, s3Cfg, signer)
	case config.StorageBackendLocal, "":
		return storage.NewFileBackend(cfg.Storage.LocalRoot, signer)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newEventRepository(ctx context.Context, db *sqlx.DB) (*repository.EventRepository, error) {
	repo := repository.NewEventRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}
