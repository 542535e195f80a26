package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/xspressctl/internal/auth"
	"github.com/danmuck/xspressctl/internal/detector"
	"github.com/danmuck/xspressctl/internal/httpapi"
)

const closeTimeout = 5 * time.Second

func newServeCommand(opts *rootOptions, logger zerolog.Logger) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detector controller and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			ctrl, err := detector.New(cfg.Detector(), logger)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				if err := ctrl.Close(ctx); err != nil {
					logger.Warn().Err(err).Msg("controller close")
				}
			}()
			if err := ctrl.Configure(cfg.ConfigureParams()); err != nil {
				return err
			}

			var httpOpts []httpapi.Option
			if !cfg.Metrics {
				httpOpts = append(httpOpts, httpapi.WithoutMetrics())
			}
			if cfg.APIToken != "" {
				httpOpts = append(httpOpts, httpapi.WithWriteAuth(auth.StaticToken{Token: cfg.APIToken}))
			}
			srv := httpapi.New(cfg.Name, cfg.HTTPAddr, cfg.CorsOrigins, ctrl, logger, httpOpts...)
			logger.Info().
				Str("endpoint", cfg.Endpoint).
				Str("http_addr", cfg.HTTPAddr).
				Int("max_channels", cfg.MaxChannels).
				Bool("write_auth", cfg.APIToken != "").
				Msg("serving")

			return serveUntilDone(cmd.Context(), srv)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address, overrides the config file")
	return cmd
}

type server interface {
	Serve(ctx context.Context) error
}

// serveUntilDone runs srv until ctx ends. Cancellation is a clean exit.
func serveUntilDone(ctx context.Context, srv server) error {
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
