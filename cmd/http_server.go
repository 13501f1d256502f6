package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/storefront-payments/api"
	"github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/auth"
	"github.com/frahmantamala/storefront-payments/internal/core/events"
	"github.com/frahmantamala/storefront-payments/internal/dedup"
	"github.com/frahmantamala/storefront-payments/internal/gateway"
	"github.com/frahmantamala/storefront-payments/internal/payment"
	"github.com/frahmantamala/storefront-payments/internal/payment/postgres"
	"github.com/frahmantamala/storefront-payments/internal/transport"
	"github.com/frahmantamala/storefront-payments/internal/transport/rest"
	"github.com/frahmantamala/storefront-payments/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server serving checkout, callback, webhook and refund endpoints`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	DB         *sqlx.DB
	Gorm       *gorm.DB
	Redis      *redis.Client
	Gateway    payment.Gateway
	Dedup      dedup.Store
	Service    *payment.Service
	Reconciler *payment.Reconciler
	Logger     *slog.Logger
}

func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("redis close error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("database close error", "error", err)
	}
}

func startHTTPServer() {
	deps, err := initializeDependencies(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	router, err := setupRoutes(deps)
	if err != nil {
		deps.Logger.Error("failed to register routes", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "gateway_mock", deps.Config.Gateway.MockMode)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) (*chi.Mux, error) {
	doc, err := api.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}

	components := map[string]rest.Pinger{"postgres": deps.DB}
	if deps.Redis != nil {
		components["redis"] = rest.PingFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	health := rest.NewHealthHandler(components)

	tokens := auth.NewJWTTokenGenerator(deps.Config.Security.JWTSecret, deps.Config.Security.JWTIssuer, 0)
	base := transport.NewBaseHandler(deps.Logger)

	router := chi.NewRouter()
	err = rest.RegisterAllRoutes(router, doc, health,
		auth.NewHandler(tokens, deps.Logger),
		auth.NewRBACAuthorization(auth.NewPermissionChecker(), deps.Logger),
		payment.NewHandler(base, deps.Service, deps.Reconciler, deps.Config.Storefront.ResultURL, deps.Logger),
		payment.NewWebhookHandler(base, deps.Reconciler, deps.Config.Webhook.SigningSecret, deps.Logger),
		deps.Logger)
	if err != nil {
		return nil, err
	}
	return router, nil
}

func initializeDependencies(ctx context.Context) (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := openGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	deps := &Dependencies{Config: config, DB: db, Gorm: gormDB, Logger: log}

	if config.Redis.Enabled {
		client, err := initRedis(ctx, config.Redis)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		deps.Redis = client
	}

	deps.Gateway = newGateway(config.Gateway, log)
	deps.Dedup = newDedupStore(deps)

	repo := postgres.NewOrderRepository(gormDB)
	inventory := postgres.NewInventoryRepository(gormDB)

	bus := events.NewEventBus(log)
	payment.NewStockCompensator(inventory, log).RegisterEventHandlers(bus)

	deps.Service = payment.NewService(repo, deps.Gateway, bus, log)
	deps.Reconciler = payment.NewReconciler(deps.Service, repo, deps.Gateway, deps.Dedup, log)
	return deps, nil
}

func newGateway(cfg internal.GatewayConfig, log *slog.Logger) payment.Gateway {
	if cfg.MockMode {
		log.Warn("gateway mock mode enabled, no real payments will be taken")
		return gateway.NewMockClient(cfg.CallbackURL, log)
	}
	return gateway.NewClient(gateway.Config{
		BaseURL:            cfg.BaseURL,
		AppKey:             cfg.AppKey,
		AppSecret:          cfg.AppSecret,
		Username:           cfg.Username,
		Password:           cfg.Password,
		CallbackURL:        cfg.CallbackURL,
		Currency:           cfg.Currency,
		Timeout:            cfg.Timeout,
		TokenRefreshBuffer: cfg.TokenRefreshBuffer,
		RequestsPerSecond:  cfg.RequestsPerSecond,
		Burst:              cfg.Burst,
	}, log)
}

func newDedupStore(deps *Dependencies) dedup.Store {
	cfg := deps.Config.Webhook
	switch cfg.DedupBackend {
	case internal.DedupBackendRedis:
		return dedup.NewRedisStore(deps.Redis, deps.Config.Redis.Prefix, cfg.DedupTTL)
	case internal.DedupBackendPostgres:
		return dedup.NewSQLStore(deps.DB, cfg.DedupTTL)
	default:
		return dedup.NewMemoryStore(cfg.DedupTTL)
	}
}

func openGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	if cfg.ConnMaxLifetime > 0 {
		dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

func initRedis(ctx context.Context, cfg internal.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
