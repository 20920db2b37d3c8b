package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/vecmem/server"
	"github.com/hrygo/vecmem/store/metrics"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /healthz, /metrics and the collection listing until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			exporter := newServeExporter()
			storeInstance, err := openStore(ctx, instanceProfile, exporter)
			if err != nil {
				return err
			}
			defer storeInstance.Close()

			s := server.NewServer(instanceProfile, storeInstance, exporter.Handler())
			printGreetings(cmd, instanceProfile.Addr, instanceProfile.Port, instanceProfile.Driver, instanceProfile.Mode)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(s.Start)
			g.Go(func() error {
				<-gctx.Done()
				slog.Info("shutting down")
				return s.Shutdown(context.WithoutCancel(gctx))
			})
			return g.Wait()
		},
	}
}

// newServeExporter adds Go runtime and process metrics to the store metrics.
// One-shot commands skip them.
func newServeExporter() *metrics.PrometheusExporter {
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	exporter.GetRegistry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return exporter
}

func printGreetings(cmd *cobra.Command, addr string, port int, driver, mode string) {
	host := addr
	if host == "" {
		host = "localhost"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "vecmem %s started\n", versionString(mode))
	fmt.Fprintf(out, "Database driver: %s\n", driver)
	fmt.Fprintf(out, "Health: http://%s:%d/healthz\n", host, port)
	fmt.Fprintf(out, "Metrics: http://%s:%d/metrics\n", host, port)
}
