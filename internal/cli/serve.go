package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/threads/internal/httpapi"
	"github.com/roach88/threads/internal/service"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the threads HTTP API on the configured address.

The server runs until interrupted (SIGINT or SIGTERM), then stops accepting
requests and waits up to server.shutdown_timeout for in-flight ones.

Example:
  threads serve
  threads serve --addr :8080 --backend badger --db ./data`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	log := opts.Logger
	slog.SetDefault(log)

	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		reg     *prometheus.Registry
		httpOps []httpapi.Option
	)
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		httpOps = append(httpOps, httpapi.WithMetrics(reg))
	}

	var registerer prometheus.Registerer
	if reg != nil {
		registerer = reg
	}
	st, err := OpenStore(ctx, cfg, log, registerer)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer opts.closeStore(st)

	svc := service.New(st, service.WithLogger(log))
	srv := httpapi.New(svc, append(httpOps, httpapi.WithLogger(log))...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", slog.Duration("timeout", cfg.Server.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Serving threads on %s (backend %s). Press Ctrl-C to stop.\n", addr, cfg.Store.Backend)

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	log.Info("server stopped gracefully")
	return nil
}
