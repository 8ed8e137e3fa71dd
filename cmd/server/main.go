/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the claims engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse flags and load configuration (file + CLAIMS_* environment)
  2. Open the SQLite intent journal and report unresolved intents
  3. Wire optional backends: Redis guard, MinIO documents, AMQP notices
  4. Connect the ledger (JSON-RPC node, or the simulated ledger in dev mode)
  5. Start the doctor registry refresher
  6. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file path (YAML, TOML or JSON). Optional.
  -dev     Force the simulated ledger, seeded with the dev catalog

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the registry refresher
  4. Close backends
  5. Exit

EXAMPLES:
  # Simulated ledger, everything in memory except the journal
  ./server -dev

  # Against a local node
  CLAIMS_LEDGER_RPC_URL=http://localhost:8545 \
  CLAIMS_LEDGER_CONTRACT_ADDRESS=0x5FbDB2315678afecb367f032d93F642f64180aa3 \
  CLAIMS_LEDGER_PRIVATE_KEY=ac09...ff80 \
  ./server

SEE ALSO:
  - config/config.go: every setting and its default
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/claims-engine/api"
	"github.com/warp/claims-engine/blob/minio"
	"github.com/warp/claims-engine/config"
	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/ledger/eth"
	"github.com/warp/claims-engine/notify"
	redisguard "github.com/warp/claims-engine/store/redis"
	"github.com/warp/claims-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Config file path")
	dev := flag.Bool("dev", false, "Use the simulated ledger")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dev {
		cfg.Server.Dev = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// Intent journal
	if cfg.Journal.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			log.Fatalf("Failed to create journal directory: %v", err)
		}
	}
	journal, err := sqlite.New(cfg.Journal.Path)
	if err != nil {
		log.Fatalf("Failed to initialize journal: %v", err)
	}
	defer journal.Close()

	if open, err := journal.Unresolved(ctx); err != nil {
		logger.Warn("could not list unresolved intents", "error", err)
	} else {
		for _, e := range open {
			logger.Warn("intent without outcome; check the ledger before retrying",
				"intent", e.IntentID, "key", e.IntentKey, "method", e.Method, "tx", e.TxHash)
		}
	}

	opts := facade.Options{
		Logger:    logger,
		Journal:   journal,
		FromBlock: cfg.Ledger.FromBlock,
	}

	// Optional backends
	if cfg.Redis.Addr != "" {
		guard, err := redisguard.New(ctx, redisguard.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize in-flight guard: %v", err)
		}
		defer guard.Close()
		opts.Guard = guard
		logger.Info("in-flight guard: redis", "addr", cfg.Redis.Addr)
	}

	if cfg.Blob.Backend == "minio" {
		store, err := minio.New(ctx, minio.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Location:  cfg.Minio.Location,
			Secure:    cfg.Minio.Secure,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize document store: %v", err)
		}
		opts.Blobs = store
		logger.Info("document store: minio", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
	}

	if cfg.AMQP.URL != "" {
		pub, err := notify.Dial(notify.Config{URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange}, logger)
		if err != nil {
			log.Fatalf("Failed to initialize notifier: %v", err)
		}
		defer pub.Close()
		opts.Notifier = pub
		logger.Info("notices: amqp", "exchange", cfg.AMQP.Exchange)
	}

	// Ledger
	var accounts api.Accounts
	if cfg.UseSimulator() {
		accounts = api.NewSimulatedAccounts(api.NewDevChain(), opts)
		logger.Info("ledger: simulated", "owner", api.DevOwner.Hex())
	} else {
		gw, err := eth.Dial(ctx, eth.Config{
			RPCURL:          cfg.Ledger.RPCURL,
			ContractAddress: cfg.Ledger.ContractAddress,
			PrivateKey:      cfg.Ledger.PrivateKey,
			ChainID:         cfg.Ledger.ChainID,
			PollInterval:    cfg.Ledger.PollInterval,
		}, logger)
		if err != nil {
			log.Fatalf("Failed to connect to ledger: %v", err)
		}
		defer gw.Close()
		accounts = api.SingleAccount{F: facade.New(gw, opts)}
		logger.Info("ledger: rpc", "url", cfg.Ledger.RPCURL, "contract", cfg.Ledger.ContractAddress, "sender", gw.Sender().Hex())
	}

	refresher := api.NewRegistryRefresher(accounts, cfg.Server.RegistryRefresh, logger)
	refresher.Start()

	handler := api.NewHandler(accounts, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	refresher.Stop()

	logger.Info("server stopped")
}
