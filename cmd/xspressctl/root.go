package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/danmuck/xspressctl/internal/config"
	"github.com/danmuck/xspressctl/internal/logging"
)

const envConfig = "XSPRESSCTL_CONFIG"

type rootOptions struct {
	configPath string
	endpoint   string
}

func newRootCommand(logger zerolog.Logger) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "xspressctl",
		Short:         "Control-plane bridge for Xspress detectors",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv(envConfig), "path to a TOML config file (env "+envConfig+")")
	flags.StringVar(&opts.endpoint, "endpoint", "", "control server endpoint, overrides the config file")

	cmd.AddCommand(
		newServeCommand(opts, logger),
		newSimCommand(logger),
		newGetCommand(opts, logger),
		newPutCommand(opts, logger),
		newConfigCommand(),
	)
	return cmd
}

// load resolves the config file, if any, plus flag overrides.
func (o *rootOptions) load() (config.Config, error) {
	cfg := config.Default()
	if path := strings.TrimSpace(o.configPath); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}
	if o.endpoint != "" {
		cfg.Endpoint = o.endpoint
	}
	logging.ApplyLevel(cfg.LogLevel)
	return cfg, nil
}
