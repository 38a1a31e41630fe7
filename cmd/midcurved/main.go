// midcurved is the ledger daemon: it wires the explorer client, chain RPC,
// distributed cache, and PostgreSQL store, serves health and metrics, and
// rebuilds position ledgers on demand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/cache"
	"github.com/0xNedAlbo/midcurve-services/catalog"
	"github.com/0xNedAlbo/midcurve-services/chainrpc"
	"github.com/0xNedAlbo/midcurve-services/config"
	"github.com/0xNedAlbo/midcurve-services/explorer"
	"github.com/0xNedAlbo/midcurve-services/health"
	"github.com/0xNedAlbo/midcurve-services/ledger"
	"github.com/0xNedAlbo/midcurve-services/logging"
	"github.com/0xNedAlbo/midcurve-services/prices"
	"github.com/0xNedAlbo/midcurve-services/resilience"
	"github.com/0xNedAlbo/midcurve-services/scheduler"
	"github.com/0xNedAlbo/midcurve-services/store"
	"github.com/0xNedAlbo/midcurve-services/tokens"
)

// parseTokenRef splits a "<chainId>:<address>" flag value.
func parseTokenRef(ref string) (uint64, common.Address, error) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 || !common.IsHexAddress(parts[1]) {
		return 0, common.Address{}, fmt.Errorf("want <chainId>:<address>, got %q", ref)
	}
	chainID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, common.Address{}, fmt.Errorf("bad chain id in %q: %w", ref, err)
	}
	return chainID, common.HexToAddress(parts[1]), nil
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		rebuildID   = flag.String("rebuild", "", "rebuild the ledger of one position id and exit")
		ensureToken = flag.String("ensure-token", "", "ensure a token row exists, as <chainId>:<address>, and exit")
	)
	flag.Parse()

	// A local .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Shared infrastructure.
	db, err := store.Connect(ctx, cfg.PostgresConnString(), logging.Component(logger, "store"))
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to ensure schema", zap.Error(err))
	}

	var kv cache.Cache
	redisCache, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-process cache", zap.Error(err))
		kv = cache.NewMemory()
	} else {
		defer redisCache.Close()
		kv = redisCache
	}

	// One scheduler per provider coordinates each rate budget.
	explorerSched := scheduler.New("explorer",
		time.Duration(cfg.Explorer.MinSpacingMs)*time.Millisecond, logging.Component(logger, "scheduler"))
	defer explorerSched.Close()
	catalogSched := scheduler.New("catalog",
		time.Duration(cfg.Catalog.MinSpacingMs)*time.Millisecond, logging.Component(logger, "scheduler"))
	defer catalogSched.Close()
	rpcSched := scheduler.New("rpc",
		time.Duration(cfg.RPC.MinSpacingMs)*time.Millisecond, logging.Component(logger, "scheduler"))
	defer rpcSched.Close()

	explorerClient, err := explorer.New(explorer.Options{
		BaseURL:   cfg.Explorer.BaseURL,
		APIKey:    cfg.Explorer.APIKey,
		UserAgent: cfg.Explorer.UserAgent,
		Scheduler: explorerSched,
		Cache:     kv,
		Logger:    logging.Component(logger, "explorer"),
		Policy:    resilience.DefaultPolicy(),
		Chains:    config.DefaultChains,
	})
	if err != nil {
		logger.Fatal("failed to build explorer client", zap.Error(err))
	}

	rpcClient := chainrpc.New(cfg.RPC.Endpoints, rpcSched, logging.Component(logger, "chainrpc"))
	defer rpcClient.Close()

	catalogClient := catalog.New(catalog.Options{
		BaseURL:   cfg.Catalog.BaseURL,
		APIKey:    cfg.Catalog.APIKey,
		Scheduler: catalogSched,
		Cache:     kv,
		Logger:    logging.Component(logger, "catalog"),
	})

	tokenService := tokens.NewService(db, rpcClient, catalogClient, logging.Component(logger, "tokens"))
	priceService := prices.NewService(db, rpcClient, logging.Component(logger, "prices"))
	engine := ledger.NewEngine(db, explorerClient, priceService, logging.Component(logger, "ledger"))

	healthServer := health.NewServer(cfg.Service.HealthPort, logging.Component(logger, "health"))
	healthServer.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		healthServer.Stop(shutdownCtx)
	}()

	if *ensureToken != "" {
		chainID, address, err := parseTokenRef(*ensureToken)
		if err != nil {
			logger.Fatal("invalid -ensure-token value", zap.Error(err))
		}
		token, err := tokenService.EnsureToken(ctx, chainID, address)
		if err != nil {
			logger.Fatal("failed to ensure token", zap.Error(err))
		}
		if err := tokenService.Enrich(ctx, token); err != nil {
			logger.Warn("token enrichment failed", zap.Error(err))
		}
		logger.Info("token ensured",
			zap.String("id", token.ID),
			zap.String("symbol", token.Symbol),
			zap.Uint8("decimals", token.Decimals))
		return
	}

	if *rebuildID != "" {
		entries, err := engine.DiscoverAllEvents(ctx, *rebuildID)
		if err != nil {
			healthServer.RecordError(err)
			logger.Fatal("ledger rebuild failed",
				zap.String("position_id", *rebuildID), zap.Error(err))
		}
		healthServer.RecordRebuild(*rebuildID)
		logger.Info("ledger rebuilt",
			zap.String("position_id", *rebuildID),
			zap.Int("entries", len(entries)))
		return
	}

	logger.Info("midcurved running",
		zap.String("service", cfg.Service.Name),
		zap.Int("health_port", cfg.Service.HealthPort))
	<-ctx.Done()
	logger.Info("shutting down")
}
