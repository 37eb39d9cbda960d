package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"convault/adapters"
	"convault/config"
	"convault/native/vault"
	"convault/observability/logging"
	telemetry "convault/observability/otel"
	"convault/server"
	"convault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to vaultd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))
	logger := logging.Setup("vaultd", env)

	telemetryCfg := telemetry.FromEnv("vaultd", env)
	var shutdownTelemetry func(context.Context) error
	if telemetryCfg.Endpoint != "" {
		var err error
		shutdownTelemetry, err = telemetry.Init(context.Background(), telemetryCfg)
		if err != nil {
			log.Fatalf("vaultd: init telemetry: %v", err)
		}
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}

	policy, err := vault.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("vaultd: load policy: %v", err)
	}

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("vaultd: resolve storage DSN: %v", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("vaultd: open storage: %v", err)
	}
	defer store.Close()

	router, err := adapters.NewRouterClient(&http.Client{Timeout: cfg.Exchange.Timeout.Duration}, cfg.Exchange.Endpoint)
	if err != nil {
		log.Fatalf("vaultd: router client: %v", err)
	}
	custody, err := adapters.NewCustodyClient(&http.Client{Timeout: cfg.Custody.Timeout.Duration}, cfg.Custody.Endpoint)
	if err != nil {
		log.Fatalf("vaultd: custody client: %v", err)
	}

	ctx := context.Background()
	engine, err := vault.NewEngine(ctx, vault.Config{
		Adapter:         router,
		Custody:         custody,
		SettlementAsset: ethcommon.HexToAddress(cfg.SettlementAsset),
		VaultAddress:    ethcommon.HexToAddress(cfg.VaultAddress),
		Policy:          policy,
		Store:           store,
		Emitter:         vault.LogEmitter{Logger: logger},
	})
	if err != nil {
		log.Fatalf("vaultd: engine: %v", err)
	}

	authenticator, err := server.NewAuthenticator(cfg.Admin.BearerToken)
	if err != nil {
		log.Fatalf("vaultd: configure admin auth: %v", err)
	}
	limiter := server.NewRateLimiter(server.RateLimit{
		RequestsPerMinute: cfg.RateLimits.RequestsPerMinute,
		Burst:             cfg.RateLimits.Burst,
	})

	srv, err := server.New(server.Config{ListenAddress: cfg.ListenAddress}, engine, store, logger, authenticator, limiter)
	if err != nil {
		log.Fatalf("vaultd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("vaultd: http server error: %v", err)
		os.Exit(1)
	}
}
