package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"voucherpay/internal/common/database"
	"voucherpay/internal/common/events"
	"voucherpay/internal/common/middleware"
	"voucherpay/internal/common/nats"
	"voucherpay/internal/exchange"
	"voucherpay/internal/ledger"
	"voucherpay/internal/ledger/api"
	"voucherpay/internal/ledger/store"
	"voucherpay/internal/ledger/store/memory"
	"voucherpay/internal/notify"
	"voucherpay/internal/providers/paystack"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"HTTP_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// StoreDriver is postgres or memory. memory loses state on restart.
	StoreDriver string   `envconfig:"STORE_DRIVER" default:"postgres"`
	AdminAPIKey string   `envconfig:"ADMIN_API_KEY" required:"true"`
	CORSOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
	RatesFile   string   `envconfig:"EXCHANGE_RATES_FILE"`

	Database database.Config
	NATS     nats.Config
	Paystack paystack.Config
	Ledger   ledger.Config
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	publisher, natsClient, err := openPublisher(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	if natsClient != nil {
		defer natsClient.Close()
	}

	gateway, err := paystack.NewClient(cfg.Paystack, logger)
	if err != nil {
		logger.Error("failed to create paystack client", "error", err)
		os.Exit(1)
	}

	cfg.Ledger.BaseRates = exchange.DefaultRates()
	if cfg.RatesFile != "" {
		fileRates, err := exchange.LoadFile(cfg.RatesFile)
		if err != nil {
			logger.Error("failed to load exchange rates", "path", cfg.RatesFile, "error", err)
			os.Exit(1)
		}
		cfg.Ledger.BaseRates = cfg.Ledger.BaseRates.Merge(fileRates)
	}

	// Create services
	emitter := notify.NewEmitter(st, publisher, logger)
	ledgerService := ledger.NewService(st, gateway, emitter, cfg.Ledger, logger)

	// Create handlers
	ledgerHandler := api.NewHandler(ledgerService, logger)
	adminHandler := api.NewAdminHandler(ledgerService, logger)
	webhookHandler := api.NewWebhookHandler(ledgerService, cfg.Paystack.SecretKey, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			middleware.UserIDHeader, middleware.UserPhoneHeader, "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Correlation-ID"},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := ledgerService.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if natsClient != nil {
			if err := natsClient.HealthCheck(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not ready"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// API routes
	r.Mount("/api/v1/admin", adminHandler.Routes(middleware.StaticAPIKey(cfg.AdminAPIKey, "admin")))
	r.Mount("/api/v1", ledgerHandler.Routes())
	r.Handle("/webhooks/paystack", webhookHandler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting voucher service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"store", cfg.StoreDriver,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; state is lost on restart")
		return memory.New(), func() {}, nil
	case "postgres":
		if cfg.Database.Migrate {
			if err := store.Migrate(cfg.Database.URL, logger); err != nil {
				return nil, nil, err
			}
		}
		db, err := database.New(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgres(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// openPublisher returns a JetStream publisher, or a no-op one when NATS_URL is unset.
func openPublisher(ctx context.Context, cfg nats.Config, logger *slog.Logger) (events.EventPublisher, *nats.Client, error) {
	if cfg.URL == "" {
		logger.Info("NATS_URL not set, events will not be published")
		return events.NopPublisher{}, nil, nil
	}
	client, err := nats.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if _, err := client.EnsureStream(ctx, nats.EventStreamConfig(cfg.Stream)); err != nil {
		client.Close()
		return nil, nil, err
	}
	return nats.NewPublisher(client, logger), client, nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
