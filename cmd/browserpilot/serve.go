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
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/browserpilot/internal/config"
	"github.com/v0xg/browserpilot/internal/events"
	"github.com/v0xg/browserpilot/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept jobs over HTTP and stream their progress over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}

	f := cmd.Flags()
	f.String("addr", "", "Listen address (default from config or :8000)")
	f.StringP("output-dir", "o", "", "Directory results are saved in")
	f.String("provider", "", "AI provider: gemini, claude, openai")
	f.String("model", "", "Primary model override")
	f.String("fallback-model", "", "Stable model used when the primary is unavailable")
	f.Bool("headless", true, "Default browser mode of submitted jobs")
	f.Bool("anti-bot", false, "Check every page for anti-bot walls and try to clear them")
	f.Bool("trace", false, "Write a GIF of each job's steps next to the output directory")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	hub := events.NewHub(events.WithRetention(cfg.Server.EventRetention))
	d, err := newDeps(ctx, cfg, events.Multi{hub, events.NewLogPublisher(logger)}, logger)
	if err != nil {
		return err
	}

	srv := server.New(d.runner, d.launcher(cfg, logger), d.pool, hub, d.store, logger,
		server.WithOrigins(cfg.Server.AllowedOrigins...),
		server.WithHeadless(cfg.Browser.Headless),
		server.WithStreamQuality(cfg.Server.StreamQuality),
		server.WithStreamWait(cfg.Server.StreamWait),
		server.WithBaseContext(context.WithoutCancel(ctx)),
		server.WithProxySource(func() ([]string, error) {
			// re-read the file and environment so edits apply without a restart
			reloaded, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return nil, err
			}
			return reloaded.Proxy.Servers, nil
		}),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		return errors.Join(err, srv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}
