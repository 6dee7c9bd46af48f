/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the point engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config file if given
  2. Initialize SQLite store
  3. Connect the shared KV backend (Redis, or in-process memory)
  4. Build locker, idempotency coordinator, balance cache, dispatcher
  5. Wire the service and HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: point.db)
           Use ":memory:" for an in-memory database
  -config  YAML config file (optional)
  -redis   Redis URL for locks/idempotency/cache (optional)

KV BACKEND:
  Without -redis (or REDIS_URL) the server uses an in-process KV store.
  That keeps single-instance deployments and local runs dependency-free,
  but locks and idempotency are then NOT shared across instances.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Wait for in-flight event deliveries
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database, in-process KV
  ./server -db="./data/point.db"

  # Run against Redis
  ./server -redis="redis://localhost:6379/0"

SEE ALSO:
  - config/config.go: Configuration resolution
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/point-engine/api"
	"github.com/warp/point-engine/cache"
	"github.com/warp/point-engine/config"
	"github.com/warp/point-engine/events"
	"github.com/warp/point-engine/idempotency"
	"github.com/warp/point-engine/kv"
	"github.com/warp/point-engine/lock"
	"github.com/warp/point-engine/service"
	"github.com/warp/point-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	configPath := flag.String("config", "", "YAML config file")
	redisURL := flag.String("redis", "", "Redis URL for locks/idempotency/cache (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *redisURL != "" {
		cfg.RedisURL = *redisURL
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Shared KV backend
	var kvStore kv.Store
	if cfg.RedisURL != "" {
		client, err := kv.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		kvStore = kv.NewRedis(client)
		log.Printf("Using redis KV backend. url=%s", cfg.RedisURL)
	} else {
		kvStore = kv.NewMemoryKV()
		log.Printf("Using in-process KV backend; locks and idempotency are per-instance only")
	}

	// Coordination and caching
	lockOpts := lock.DefaultOptions()
	lockOpts.MaxAttempts = cfg.LockMaxAttempts
	lockOpts.WaitPerTry = cfg.LockWaitPerTry
	lockOpts.Lease = cfg.LockLease
	locker := lock.NewLocker(kvStore, lockOpts)
	coordinator := idempotency.NewCoordinator(kvStore, cfg.IdempotencyInflightTTL, cfg.IdempotencyResultTTL)
	balances := cache.NewBalanceCache(kvStore, cfg.BalanceCacheTTL)

	// Domain events
	dispatcher := events.NewDispatcher()

	// Service and router
	svc := service.New(store, locker, balances, dispatcher, cfg.Earn, nil)
	handler := api.NewHandler(svc, coordinator)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Point engine starting on http://localhost:%d", cfg.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	dispatcher.Wait()
	log.Println("Server stopped")
}
