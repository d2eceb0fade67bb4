package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/zero-day-ai/cag/health"
	"github.com/zero-day-ai/cag/metrics"
	"github.com/zero-day-ai/cag/persist"
)

const (
	defaultMetricsAddr = "127.0.0.1:9090"
	shutdownTimeout    = 10 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var (
		metricsAddr      string
		snapshotInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the store open with auto-save and serve metrics",
		Long: `Open the store, run the background auto-save and expose Prometheus
metrics on /metrics and the combined store and cache health on /healthz
until interrupted. On shutdown the store is flushed.

With --snapshot-interval, a snapshot is written on that period.

Examples:
  cagctl serve
  cagctl serve --metrics-addr :9100 --snapshot-interval 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if metricsAddr == "" {
				metricsAddr = a.cfg.Telemetry.MetricsAddr
			}
			if metricsAddr == "" {
				metricsAddr = defaultMetricsAddr
			}
			return a.withStore(cmd.Context(), func(store *persist.Store) error {
				return a.serve(cmd, store, metricsAddr, snapshotInterval)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"Listen address of the metrics endpoint (default telemetry.metrics_addr or "+defaultMetricsAddr+")")
	cmd.Flags().DurationVar(&snapshotInterval, "snapshot-interval", 0,
		"Write a snapshot on this period (0 disables)")
	return cmd
}

func (a *app) serve(cmd *cobra.Command, store *persist.Store, addr string, snapshotInterval time.Duration) error {
	ctx := cmd.Context()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewStoreCollector(store),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mp, err := metrics.NewMeterProvider(reg)
	if err != nil {
		return err
	}
	otel.SetMeterProvider(mp)
	defer mp.Shutdown(context.WithoutCancel(ctx))

	snaps, err := a.newSnapshots(store)
	if err != nil {
		return err
	}
	qc, closer, err := a.openCache()
	if err != nil {
		return err
	}
	defer closer.Close()
	maxSaveAge := 2 * a.cfg.Storage.GetAutoSaveInterval()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/healthz", health.Handler(func(ctx context.Context) health.Status {
		return health.Combine(
			health.StoreCheck(ctx, store),
			health.LoadCheck(store.LastLoad()),
			health.SaveCheck(store.LastSave(), store.PendingOperations(), maxSaveAge, time.Now()),
			health.DirCheck(store.Dir()),
			health.CacheCheck(ctx, qc),
		)
	}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on http://%s/metrics\n", ln.Addr())
	a.logger.Info("serving", "addr", ln.Addr().String(), "data_dir", store.Dir())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if snapshotInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(snapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if _, err := snaps.Create(gctx); err != nil {
						a.logger.Error("scheduled snapshot failed", "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}
