package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/nicacher/nicacher/pkg/config"
	"github.com/nicacher/nicacher/pkg/database"
	"github.com/nicacher/nicacher/pkg/dispatcher"
	"github.com/nicacher/nicacher/pkg/server"
	"github.com/nicacher/nicacher/pkg/store"
	"github.com/nicacher/nicacher/pkg/upstream"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "serve the binary cache proxy over http",
		Action:  serveAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "the address the HTTP server listens on",
				Sources: cli.EnvVars("NICACHER_ADDR"),
				Value:   "0.0.0.0:8080",
			},
			&cli.StringFlag{
				Name:    "store-root",
				Usage:   "the store-path root used to reconstitute StorePath values",
				Sources: cli.EnvVars("NICACHER_STORE_ROOT"),
				Value:   "/nix/store",
			},
		},
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	logger := zerolog.Ctx(ctx).With().Str("cmd", "serve").Logger()
	ctx = logger.WithContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cmd.Root().String("config"))
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	db, err := database.Open(ctx, filepath.Join(cfg.LocalDataPath, "cache.db"), database.PoolConfig{
		MaxOpenConns: cfg.DatabaseMaxConnections,
	})
	if err != nil {
		return fmt.Errorf("error opening the database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing the database")
		}
	}()

	st, err := store.New(ctx, cfg.LocalDataPath)
	if err != nil {
		return fmt.Errorf("error opening the artifact store: %w", err)
	}

	uc, err := upstream.NewClient(upstream.Options{ChannelURL: cfg.ChannelURL})
	if err != nil {
		return fmt.Errorf("error creating the upstream client: %w", err)
	}

	registry := prometheus.NewRegistry()

	channel := ""
	if len(cfg.Channels) > 0 {
		channel = cfg.Channels[0]
	}

	disp := dispatcher.New(db, st, uc, dispatcher.Options{
		StoreRoot:  cmd.String("store-root"),
		Channel:    channel,
		Upstreams:  cfg.Upstreams,
		Registerer: registry,
	})

	srv := server.New(db, st, disp, uc, cmd.String("store-root"), cfg.Channels)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", srv)

	httpServer := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Addr:              cmd.String("addr"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return disp.Run(ctx)
	})

	g.Go(func() error {
		logger.Info().Str("addr", cmd.String("addr")).Msg("server started")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error starting the HTTP listener: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down the HTTP server: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error running the server: %w", err)
	}

	return nil
}
