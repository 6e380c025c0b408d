package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Swind/go-message-port/channel"
	"github.com/Swind/go-message-port/config"
	"github.com/Swind/go-message-port/core"
	"github.com/Swind/go-message-port/dispatch"
	obs "github.com/Swind/go-message-port/observability/prometheus"
)

var rootCmd = &cobra.Command{
	Use:   "msgport",
	Short: "msgport passes messages between single-threaded loops",
	Long: `msgport drives message ports between goroutine-backed loops, including
loops that only come into existence after the first messages were sent.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
}

// env is the wiring shared by the subcommands.
type env struct {
	cfg        config.Config
	logger     core.Logger
	metrics    core.Metrics
	dispatcher *dispatch.Dispatcher

	poller *obs.SnapshotPoller
	server *http.Server
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: cfg.Logger(), metrics: &core.NilMetrics{}}

	var reg *prom.Registry
	if cfg.Metrics.Enabled {
		reg = prom.NewRegistry()
		exporter, err := obs.NewMetricsExporter(cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
		if err != nil {
			return nil, fmt.Errorf("metrics exporter: %w", err)
		}
		e.metrics = exporter
	}

	e.dispatcher = dispatch.Init(&dispatch.Config{
		Logger:  e.logger,
		Metrics: e.metrics,
	})

	if reg != nil {
		poller, err := obs.NewSnapshotPoller(cfg.Metrics.Namespace, reg, cfg.Metrics.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("snapshot poller: %w", err)
		}
		poller.AddDispatcher("global", e.dispatcher)
		poller.SetTracer(core.DefaultTracer())
		poller.Start(cmd.Context())
		e.poller = poller

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		e.server = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics server failed", core.F("error", err))
			}
		}()
		e.logger.Info("serving metrics", core.F("addr", cfg.Metrics.Addr))
	}
	return e, nil
}

func (e *env) runnerConfig(name string) *core.RunnerConfig {
	rc := e.cfg.RunnerConfig(e.logger, e.metrics)
	if name != "" {
		rc.Name = name
	}
	return rc
}

func (e *env) channelConfig() *channel.Config {
	cc := e.cfg.ChannelConfig(e.logger, e.metrics)
	cc.Dispatcher = e.dispatcher
	return cc
}

func (e *env) watchLoop(name string, loop obs.LoopSnapshotProvider) {
	if e.poller != nil {
		e.poller.AddLoop(name, loop)
	}
}

func (e *env) close() {
	if e.poller != nil {
		e.poller.Stop()
	}
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.server.Shutdown(ctx)
	}
	if dropped := dispatch.Shutdown(); dropped > 0 {
		e.logger.Warn("pending messages dropped at exit", core.F("count", dropped))
	}
}
