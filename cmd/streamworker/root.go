package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leafsii/rediscmd/internal/config"
	"github.com/leafsii/rediscmd/internal/log"
)

const Version = "0.3.0"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "streamworker",
		Short: "Redis stream consumer worker",
		Long: fmt.Sprintf(`streamworker (v%s)

Consumes a Redis stream through a consumer group, reclaims entries left
pending by idle consumers and serves group status over HTTP.`, Version),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "redis.toml", "Path to the TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of streamworker",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "streamworker v%s\n", Version)
		},
	}

	rootCmd.AddCommand(newRunCmd(opts), newCheckCmd(opts), versionCmd)
	return rootCmd
}

// load reads the configuration and builds the logger for a subcommand
func (o *rootOptions) load() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logOpts []log.Option
	if o.logLevel != "" {
		logOpts = append(logOpts, log.WithLevel(o.logLevel))
	}
	logger, err := log.NewSugar(cfg.Env, logOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}
