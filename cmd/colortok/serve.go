package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/colortok/internal/metrics"
	"github.com/example/colortok/internal/registry"
	"github.com/example/colortok/internal/render"
	"github.com/example/colortok/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		preload      bool
		preloadModes []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the colortok HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			logger := slog.Default()
			regOpts := []registry.Option{registry.WithLogger(logger)}
			svcOpts := []render.Option{render.WithLogger(logger)}

			var collector *metrics.Collector
			if cfg.Server.Metrics {
				collector = metrics.NewCollector()
				regOpts = append(regOpts, registry.WithObserver(collector))
				svcOpts = append(svcOpts, render.WithRecorder(collector))
			}

			reg := registry.New(cfg.Paths.TokenizersDir, regOpts...)
			svc := render.NewService(reg, svcOpts...)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if preload || len(preloadModes) > 0 {
				start := time.Now()
				if err := reg.Preload(ctx, preloadModes); err != nil {
					return err
				}
				logger.Info("preloaded tokenizers",
					slog.Any("modes", preloadModes),
					slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				)
			}

			srv := server.New(cfg, svc).
				WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeout) * time.Second).
				WithLogger(logger)
			if collector != nil {
				srv = srv.WithCollector(collector)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&preload, "preload", false, "Load every tokenizer mode before serving")
	cmd.Flags().StringSliceVar(&preloadModes, "preload-mode", nil, "Load only these modes before serving (implies --preload)")

	return cmd
}
