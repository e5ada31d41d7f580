package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/josecentenodev/crm-aurelia/pkg/cache"
	"github.com/josecentenodev/crm-aurelia/pkg/config"
	"github.com/josecentenodev/crm-aurelia/pkg/gateway"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/josecentenodev/crm-aurelia/pkg/realtime"
	"github.com/josecentenodev/crm-aurelia/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

type serveOptions struct {
	configPath string
	addr       string
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect upstream and serve the websocket gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func newConfigCommand() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to YAML config file")
	return cmd
}

func loadConfig(opts *serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.addr != "" {
		cfg.Gateway.ListenAddr = opts.addr
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", multierr.Combine(errs...))
	}
	return cfg, nil
}

func registryConfig(c config.RealtimeConfig) realtime.Config {
	return realtime.Config{
		MaxChannels:       c.MaxChannels,
		WarningThreshold:  c.WarningThreshold,
		CriticalThreshold: c.CriticalThreshold,
		JoinTimeout:       c.JoinTimeout,
		PollInterval:      c.PollInterval,
		StuckThreshold:    c.StuckThreshold,
		CleanupDelay:      c.CleanupDelay,
	}
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputFile: cfg.Logging.OutputFile,
		Colors:     true,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Transport.DialTimeout)
	socket, err := transport.Dial(dialCtx, transport.Config{
		URL:               cfg.Transport.URL,
		APIKey:            cfg.Transport.APIKey,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval,
		DialTimeout:       cfg.Transport.DialTimeout,
		WriteTimeout:      cfg.Transport.WriteTimeout,
	}, logger)
	cancel()
	if err != nil {
		logger.ComponentError(logging.ComponentTransport, "failed to connect upstream", zap.Error(err))
		return err
	}

	registry := realtime.NewRegistry(socket, registryConfig(cfg.Realtime), logger)

	queryCache, err := cache.New(cfg.Cache.Size, logger)
	if err != nil {
		return err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		registry.Collector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gw := gateway.New(gateway.Config{
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		WriteTimeout:   cfg.Transport.WriteTimeout,
		ReleaseTimeout: cfg.Gateway.ShutdownTimeout,
	}, registry, queryCache, metrics, logger)

	server := &http.Server{
		Addr:              cfg.Gateway.ListenAddr,
		Handler:           gw.Routes(),
		ReadHeaderTimeout: cfg.Gateway.ReadHeaderTimeout,
	}

	listener, err := net.Listen("tcp", cfg.Gateway.ListenAddr)
	if err != nil {
		_ = registry.Close(ctx)
		_ = socket.Close()
		return fmt.Errorf("failed to listen on %s: %w", cfg.Gateway.ListenAddr, err)
	}
	if cfg.Gateway.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.Gateway.MaxConnections)
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go gw.Monitor(monitorCtx, cfg.Gateway.MonitorInterval)

	serveErr := make(chan error, 1)
	go func() {
		logger.ComponentInfo(logging.ComponentGateway, "Gateway HTTP server starting",
			zap.String("addr", cfg.Gateway.ListenAddr),
			zap.Int("max_channels", cfg.Realtime.MaxChannels),
			zap.Int("max_connections", cfg.Gateway.MaxConnections))
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case <-socket.Done():
		logger.ComponentError(logging.ComponentTransport, "upstream connection lost; shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.ComponentError(logging.ComponentGateway, "HTTP server error", zap.Error(err))
		}
	}

	stopMonitor()
	logger.ComponentInfo(logging.ComponentGateway, "Shutting down gateway HTTP server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ComponentError(logging.ComponentGateway, "HTTP server shutdown error", zap.Error(err))
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.ComponentWarn(logging.ComponentRealtime, "registry close incomplete", zap.Error(err))
	}
	if err := socket.Close(); err != nil {
		logger.ComponentWarn(logging.ComponentTransport, "socket close error", zap.Error(err))
	}
	logger.ComponentInfo(logging.ComponentGateway, "Gateway shutdown complete")
	return nil
}
