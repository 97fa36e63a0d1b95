/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env, then configuration (file, INVENTORY_* env, defaults)
  2. Build the zap logger
  3. Open the configured store (memory, sqlite or redis)
  4. Create the coordinator, handler and router
  5. Run the HTTP server and the audit scheduler until a signal arrives

COMMAND-LINE FLAGS:
  -config  Path to a config file (default: config.yaml in . or ./config)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (http.shutdown_timeout)
  3. Stop the audit scheduler
  4. Close the store
  5. Exit

EXAMPLES:
  # In-memory store on the default port
  ./server

  # SQLite file database
  INVENTORY_STORE_DRIVER=sqlite INVENTORY_STORE_SQLITE_PATH=./data/inventory.db ./server

  # Redis
  INVENTORY_STORE_DRIVER=redis INVENTORY_STORE_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: All configuration keys
  - api/server.go: Router configuration
  - inventory/coordinator.go: Sale operations
*/
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

	"github.com/joho/godotenv"
	"github.com/warp/inventory-engine/api"
	"github.com/warp/inventory-engine/config"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/inventory/store"
	"github.com/warp/inventory-engine/logger"
	"github.com/warp/inventory-engine/metrics"
	redisstore "github.com/warp/inventory-engine/store/redis"
	"github.com/warp/inventory-engine/store/sqlite"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "inventory-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// A missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()
	log.Info("store ready", zap.String("driver", cfg.Store.Driver))

	var prom *metrics.Prometheus
	var recorder inventory.Recorder
	if cfg.Metrics.Enabled {
		prom = metrics.New()
		recorder = prom
	}

	coordinator := inventory.NewCoordinator(st, inventory.Options{
		OperationTimeout: cfg.Inventory.OperationTimeout,
		MaxAttempts:      cfg.Inventory.MaxAttempts,
		RetryBackoff:     cfg.Inventory.RetryBackoff,
		Logger:           log.Named("coordinator"),
		Recorder:         recorder,
	})

	handler := api.NewHandler(st, coordinator, log)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSAllowOrigins: cfg.HTTP.CORSAllowOrigins,
		Metrics:          prom,
		MetricsPath:      cfg.Metrics.Path,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	var observer api.AuditObserver
	if prom != nil {
		observer = prom
	}
	scheduler := api.NewAuditScheduler(st, log, observer)
	scheduler.Interval = cfg.Audit.Interval
	scheduler.Enabled = cfg.Audit.Enabled

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// openStore builds the store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreConfig) (inventory.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverRedis:
		s, err := redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
