package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/klyr/proxyurl/internal/config"
	"github.com/klyr/proxyurl/internal/inspect"
	"github.com/klyr/proxyurl/internal/logging"
	"github.com/klyr/proxyurl/internal/observability"
	"github.com/klyr/proxyurl/internal/server"
	"github.com/klyr/proxyurl/internal/store"
)

const (
	limiterSweepEvery = time.Minute
	limiterIdle       = 10 * time.Minute
)

func newServeCmd() *cobra.Command {
	var configPath string
	var listenOverride string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the extraction HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listenOverride != "" {
				cfg.Server.Listen = listenOverride
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&listenOverride, "listen", "", "Override server.listen")

	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	inspector, err := inspect.FromConfig(cfg)
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, inspector)
	if err != nil {
		return err
	}
	srv.SetLogger(log)

	if cfg.Logging.ExtractionLog != "" {
		records, closer, err := logging.OpenRecordLog(cfg.ResolvePath(cfg.Logging.ExtractionLog), logging.RotateOptions{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		srv.SetRecordLogger(records)
	}

	if cfg.Store.Enabled {
		st, err := store.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		if cfg.Store.Migrate {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		}
		srv.SetSink(st)
	}

	metricsSrv := startMetricsServer(cfg, srv, log)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      2 * cfg.Server.Timeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLS.Enabled {
			serverErr <- httpSrv.ListenAndServeTLS(cfg.ResolvePath(cfg.Server.TLS.CertFile), cfg.ResolvePath(cfg.Server.TLS.KeyFile))
			return
		}
		serverErr <- httpSrv.ListenAndServe()
	}()
	log.Info("serving",
		zap.String("listen", cfg.Server.Listen),
		zap.Bool("tls", cfg.Server.TLS.Enabled),
		zap.Strings("keys", inspector.Extractor.Keys()),
		zap.Int("gateways", len(inspector.Gateways.Patterns())),
	)

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepLimiter(signalCtx, srv)

	select {
	case <-signalCtx.Done():
		log.Info("shutting down")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func startMetricsServer(cfg *config.Config, srv *server.Server, log *zap.Logger) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	srv.SetMetrics(metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	metricsSrv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	return metricsSrv
}

func sweepLimiter(ctx context.Context, srv *server.Server) {
	limiter := srv.Limiter()
	if limiter == nil {
		return
	}
	ticker := time.NewTicker(limiterSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			limiter.Sweep(limiterIdle, now)
		}
	}
}
