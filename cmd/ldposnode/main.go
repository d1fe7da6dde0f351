// Command ldposnode runs a single ldpos-chain node. It always boots
// against the in-memory demo DAL/CryptoClient/NetworkChannel
// collaborators under internal/memchain, which is enough to forge and
// process its own blocks but never to sync with a real network.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"

	"github.com/sacOO7/ldpos-chain/core"
	"github.com/sacOO7/ldpos-chain/internal/memchain"
	"github.com/sacOO7/ldpos-chain/pkg/config"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	viper.AutomaticEnv()

	root := &cobra.Command{Use: "ldposnode"}
	root.AddCommand(startCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var configName, configPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a node against the in-memory demo collaborators",
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(configName, configPath); err != nil {
				logrus.StandardLogger().WithError(err).Fatal("ldposnode exited")
			}
		},
	}
	cmd.Flags().StringVar(&configName, "config", "default", "config file name (without extension)")
	cmd.Flags().StringVar(&configPath, "config-path", ".", "directory to search for the config file")
	return cmd
}

func run(configName, configPath string) error {
	logger := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(os.Getenv("LDPOS_LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	cfg, err := config.Load(configName, configPath)
	if err != nil {
		return err
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dal := memchain.NewDAL()
	network := memchain.NewNetworkChannel()
	mod, err := core.Load(ctx, cfg, dal, func() core.CryptoClient { return memchain.NewCryptoClient() }, network, nil, logger)
	if err != nil {
		return err
	}

	metricsSrv, err := startMetricsServer(cfg.MetricsListenAddr, mod)
	if err != nil {
		return err
	}

	logger.WithField("metricsAddr", cfg.MetricsListenAddr).Info("ldposnode started")
	<-ctx.Done()
	logger.Info("ldposnode shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics server shutdown")
	}
	return mod.Unload(shutdownCtx)
}

// startMetricsServer mounts the module's Prometheus registry behind
// /metrics and a liveness probe behind /healthz, grounded on
// system_health_logging.go's StartMetricsServer/ShutdownMetricsServer
// pairing. This is the node's only HTTP surface: a chain-data REST API
// is an explicit non-goal (spec.md §6), the Public RPC surface is meant
// to be mounted by whatever transport the hosting application chooses.
func startMetricsServer(addr string, mod *core.Module) (*http.Server, error) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(mod.Metrics().Registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.StandardLogger().WithError(err).Error("metrics server exited")
		}
	}()
	return srv, nil
}
