package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/supervisr/internal/config"
	"github.com/loykin/supervisr/internal/history"
	"github.com/loykin/supervisr/internal/history/factory"
	"github.com/loykin/supervisr/internal/logger"
	"github.com/loykin/supervisr/internal/metrics"
	"github.com/loykin/supervisr/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervision tree defined in the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "supervisr.toml", "path to config file")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and the tree it defines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := logCfg(cfg).New()
			if _, err := config.BuildTree(cfg.Root, log, nil); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "supervisr.toml", "path to config file")
	return cmd
}

func logCfg(cfg *config.Config) logger.Config {
	if cfg.Log != nil {
		return *cfg.Log
	}
	return logger.Config{}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logCfg(cfg).New()

	var sinks []history.Sink
	if cfg.History != nil && cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		sinks = append(sinks, sink)
	}

	sup, err := config.BuildTree(cfg.Root, log, sinks)
	if err != nil {
		return err
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go serveMetrics(cfg.Metrics.Listen)
	}

	var api *http.Server
	if cfg.Server != nil && cfg.Server.Listen != "" {
		api, err = server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, sup)
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("signal received, stopping supervision tree")
		_ = sup.Stop()
	}()

	// Blocks until Stop is called (signal, API, or restart-storm shutdown).
	if err := sup.Start(); err != nil {
		return err
	}

	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = api.Shutdown(ctx)
	}
	return nil
}

func serveMetrics(addr string) {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	_ = srv.ListenAndServe()
}
