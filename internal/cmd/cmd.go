// Package cmd assembles the nicacher command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// Version identifies the binary, set with ldflags at build time.
//
//nolint:gochecknoglobals
var Version = "dev"

// New builds the root nicacher command.
func New() *cli.Command {
	return &cli.Command{
		Name:    "nicacher",
		Usage:   "caching reverse proxy for a content-addressed binary artifact store",
		Version: Version,
		Before:  before,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set the log level (trace, debug, info, warn, error)",
				Sources: cli.EnvVars("NICACHER_LOG_LEVEL"),
				Value:   "info",
				Validator: func(lvl string) error {
					_, err := zerolog.ParseLevel(lvl)

					return err
				},
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the nicacher TOML configuration file",
				Sources: cli.EnvVars("NICACHER_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
		},
	}
}

func before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	lvl, err := zerolog.ParseLevel(cmd.String("log-level"))
	if err != nil {
		return ctx, fmt.Errorf("error parsing the log-level %q: %w", cmd.String("log-level"), err)
	}

	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		ctx = zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger().WithContext(ctx)

		zerolog.Ctx(ctx).Info().Str("log_level", lvl.String()).Msg("logger created")

		return ctx, nil
	}

	ctx = zerolog.New(writer).Level(lvl).With().Timestamp().Logger().WithContext(ctx)

	zerolog.Ctx(ctx).Info().Str("log_level", lvl.String()).Msg("logger created")

	return ctx, nil
}
