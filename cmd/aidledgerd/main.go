package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"aidledger/config"
	"aidledger/core"
	"aidledger/core/types"
	"aidledger/observability/logging"
	"aidledger/rpc"
	"aidledger/storage"
)

const envVar = "AIDLEDGER_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))
	logger := logging.Setup("aidledgerd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dataDir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}

	opts := []core.NodeOption{
		core.WithLogger(logger),
		core.WithMaxEscrows(cfg.MaxEscrows),
		core.WithInitialFee(big.NewInt(cfg.EscrowFee)),
	}
	if vault := strings.TrimSpace(cfg.VaultPrincipal); vault != "" {
		opts = append(opts, core.WithVault(types.Principal(vault)))
	}
	node := core.NewNode(db, opts...)
	defer node.Close()

	server := rpc.NewServer(node)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting JSON-RPC server",
			slog.String("address", cfg.RPCAddress),
			slog.String("network", cfg.NetworkName))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", slog.Any("error", err))
	}
}
