package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	metrics "github.com/hanpama/fetchgraph/internal/metrics"
	otel "github.com/hanpama/fetchgraph/internal/otel"
	server "github.com/hanpama/fetchgraph/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP planning endpoint",
		Long: `Serve POST/GET ` + server.Route + ` for fetch planning and /metrics for Prometheus.
Traces are exported over OTLP/gRPC when --otel-endpoint is set.`,
		Example: `  fetchgraph serve --addr :8080 --root films=Film`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eventbus.Use(eventbus.New())
			shutdown, err := otel.Setup(a.cfg.Otel.Endpoint, a.cfg.Otel.Service)
			if err != nil {
				return fmt.Errorf("otel setup: %w", err)
			}
			defer func() { _ = shutdown(context.Background()) }()

			h, err := a.handler(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			srv := &http.Server{Addr: a.cfg.Server.Addr, Handler: h}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			a.log.Info("fetchgraph server listening", zap.String("addr", a.cfg.Server.Addr))

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.log.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				return err
			}
			if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (default :8080)")
	f.Duration("timeout", 0, "per-request timeout (default 10s)")
	f.Bool("pretty", false, "pretty-print JSON responses")
	f.String("otel-endpoint", "", "OTLP collector endpoint")
	f.String("otel-service", "", "OpenTelemetry service name (default fetchgraph)")
	return cmd
}

// handler wires the planner, metrics and server into one mux.
func (a *app) handler(reg prometheus.Registerer, gatherer prometheus.Gatherer) (http.Handler, error) {
	p, err := a.planner()
	if err != nil {
		return nil, err
	}
	m := metrics.New(reg)
	m.Subscribe()

	var opts []server.Option
	opts = append(opts, server.WithLogger(a.log))
	if a.cfg.Server.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if a.cfg.Server.Timeout > 0 {
		opts = append(opts, server.WithTimeout(a.cfg.Server.Timeout))
	}

	mux := http.NewServeMux()
	mux.Handle(server.Route, server.New(p, opts...))
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux, nil
}
