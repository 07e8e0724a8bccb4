package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gra-p2p/gra/internal/hash"
	"github.com/gra-p2p/gra/internal/lifecycle"
)

const (
	reprovideInterval = 12 * time.Hour
	statusInterval    = 5 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var (
	metricsBind    string
	disableMetrics bool
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start the gra daemon",
		Long: `Start the gra daemon which listens on the configured addresses, joins
the DHT, serves blocks from the local store and announces every stored block.

Metrics are exposed on metrics.bind when [metrics] is enabled.`,
		RunE: runDaemon,
	}

	cmd.Flags().StringVar(&metricsBind, "metrics-bind", "", "metrics endpoint address (overrides metrics.bind and enables metrics)")
	cmd.Flags().BoolVar(&disableMetrics, "no-metrics", false, "disable the metrics endpoint")

	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if metricsBind != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Bind = metricsBind
	}
	if disableMetrics {
		cfg.Metrics.Enabled = false
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting gra daemon",
		zap.String("version", version),
		zap.Strings("listen", cfg.Network.ListenAddrs),
		zap.Strings("tiers", cfg.Storage.Tiers),
		zap.String("dataDir", cfg.Storage.Path))

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}()

	rt, err := startNode(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Session shutdown error", zap.Error(err))
		}
	}()

	if err := rt.listen(ctx); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lc := lifecycle.New(ctx, logger.Named("lifecycle"))

	errChan := make(chan error, 1)
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", rt.metrics.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Bind,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		lc.Go("metrics-server", func(context.Context) {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		})
	}

	// Announce stored blocks once the DHT has peers, then periodically.
	lc.Go("reprovide", func(ctx context.Context) {
		select {
		case <-rt.session.Bootstrapped():
		case <-ctx.Done():
			return
		}
		reprovide(ctx, rt)
	})
	lc.Every("reprovide-loop", reprovideInterval, func(ctx context.Context) { reprovide(ctx, rt) })
	lc.Every("status", statusInterval, func(ctx context.Context) { logStatus(ctx, rt) })

	logger.Info("gra daemon started",
		zap.Stringer("peerID", rt.node.LocalPeer()),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.String("metricsAddr", cfg.Metrics.Bind+"/metrics"))

	// Wait for shutdown signal or error
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
		runErr = err
	case err := <-rt.runErr:
		logger.Error("Node stopped unexpectedly", zap.Error(err))
		runErr = err
	}

	// Graceful shutdown
	logger.Info("Shutting down...")

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics shutdown error", zap.Error(err))
		}
		shutdownCancel()
	}
	if err := lc.StopTimeout(shutdownTimeout); err != nil {
		logger.Warn("Background tasks did not stop in time", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return runErr
}

// reprovide announces every block in the local store.
func reprovide(ctx context.Context, rt *instance) {
	ids, err := rt.store.Blocks.List(ctx)
	if err != nil {
		rt.logger.Warn("Failed to list stored blocks", zap.Error(err))
		return
	}

	announced, failed := 0, 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		h, err := hash.ParseKey(id)
		if err != nil {
			rt.logger.Debug("Skipping unparseable block id", zap.String("id", id), zap.Error(err))
			continue
		}
		if err := rt.client.StartProviding(ctx, h); err != nil {
			failed++
			rt.logger.Debug("Failed to announce block", zap.Stringer("hash", h), zap.Error(err))
			continue
		}
		announced++
	}
	rt.logger.Info("Announced stored blocks",
		zap.Int("announced", announced),
		zap.Int("failed", failed))
}

func logStatus(ctx context.Context, rt *instance) {
	st, err := rt.client.Status(ctx)
	if err != nil {
		return
	}
	rt.logger.Info("Node status",
		zap.Int("connectedPeers", len(st.Session.ConnectedPeers)),
		zap.Int("routingTable", st.Session.RoutingTableSize),
		zap.Stringer("reachability", st.Session.Reachability),
		zap.Int("knownPeers", len(st.Peers)),
		zap.Any("pending", st.Pending))
}
