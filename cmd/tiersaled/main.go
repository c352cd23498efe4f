package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tiersale/config"
	"tiersale/core"
	"tiersale/observability/logging"
	"tiersale/rpc"
	"tiersale/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("tiersaled", cfg.Environment)

	treasury, err := config.ParseAddress(cfg.TreasuryAddress)
	if err != nil {
		logger.Error("treasury address", "error", err)
		os.Exit(1)
	}
	distributor, err := config.ParseAddress(cfg.DistributorAddress)
	if err != nil {
		logger.Error("distributor address", "error", err)
		os.Exit(1)
	}
	vault, err := config.ParseAddress(cfg.VaultAddress)
	if err != nil {
		logger.Error("vault address", "error", err)
		os.Exit(1)
	}
	basePrices, err := cfg.BasePrices()
	if err != nil {
		logger.Error("phase ladder", "error", err)
		os.Exit(1)
	}
	params, err := cfg.Params()
	if err != nil {
		logger.Error("pricing params", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.NodeConfig{
		Params:        params,
		BasePrices:    basePrices,
		Treasury:      treasury,
		Distributor:   distributor,
		Vault:         vault,
		PaymentAssets: cfg.PaymentAssets,
		StableAsset:   cfg.StableAsset,
	})
	if err != nil {
		logger.Error("construct node", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Method(http.MethodPost, "/", rpc.NewServer(node, logger))
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "addr", cfg.ListenAddress, "network", cfg.NetworkName)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
