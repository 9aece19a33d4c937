package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"colreduce/catalog"
	"colreduce/columnar"
	"colreduce/config"
	"colreduce/logger"
	"colreduce/monitoring"
	"colreduce/reduction"
)

var (
	cfgFile     string
	logLevel    string
	metricsAddr string

	cfg           *config.Config
	registry      = prometheus.NewRegistry()
	metrics       = monitoring.NewMetrics(registry)
	metricsServer *http.Server
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "colreduce",
		Short: "Dictionary-encoded column reductions",
		Long: `colreduce loads columns from parquet files, stores them dictionary
encoded and computes MIN, MAX, MEAN, SUM, COUNT, ANY and ALL over them.`,
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(
		newLoadCmd(),
		newReduceCmd(),
		newQueryCmd(),
		newStatsCmd(),
		newListCmd(),
		newDropCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

func setup(cmd *cobra.Command, args []string) error {
	v := config.NewViper()
	if err := v.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
		return err
	}
	if err := v.BindPFlag("metrics.addr", cmd.Root().PersistentFlags().Lookup("metrics-addr")); err != nil {
		return err
	}

	var err error
	cfg, err = config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.Handler(registry))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		metricsServer = srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Named(logger.ComponentCLI).Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Named(logger.ComponentCLI).Info("serving metrics", zap.String("addr", cfg.Metrics.Addr))
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	var errs []error
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Named(logger.ComponentCLI).Warn("metrics server shutdown failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
		metricsServer = nil
	}
	if err := logger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
	}
	return errors.Join(errs...)
}

func newReducer() *reduction.Reducer {
	return reduction.New(
		reduction.WithPartitionSize(cfg.Engine.PartitionSize),
		reduction.WithParallelism(cfg.Engine.Parallelism),
		reduction.WithLogger(logger.Named(logger.ComponentReduce)),
		reduction.WithObserver(metrics),
	)
}

func encodeOptions() columnar.EncodeOptions {
	return columnar.EncodeOptions{
		PartitionSize: cfg.Engine.PartitionSize,
		Parallelism:   cfg.Engine.Parallelism,
	}
}

func openCatalog() (*catalog.Catalog, error) {
	store, err := catalog.CreateStore(cfg.Catalog.Backend, map[string]interface{}{
		"path": cfg.Catalog.Path,
	})
	if err != nil {
		return nil, err
	}

	opts := []catalog.Option{
		catalog.WithCompression(cfg.Compression(), columnar.CompressionLevel(cfg.Catalog.Level)),
		catalog.WithEncodeOptions(encodeOptions()),
		catalog.WithReducer(newReducer()),
		catalog.WithObserver(metrics),
		catalog.WithLogger(logger.Named(logger.ComponentCatalog)),
	}
	if cfg.Catalog.CacheMB > 0 {
		cache, err := catalog.NewColumnCache(catalog.CacheConfig{
			MaxMemoryMB: cfg.Catalog.CacheMB,
			MaxEntries:  cfg.Catalog.CacheEntries,
			TTL:         cfg.Catalog.CacheTTL,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		opts = append(opts, catalog.WithCache(cache))
	}

	cat, err := catalog.New(store, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return cat, nil
}
