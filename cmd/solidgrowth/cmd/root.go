package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"solidgrowth/internal/config"
)

var (
	cfg *config.Config
	log *zap.Logger

	rootCmd = &cobra.Command{
		Use:           "solidgrowth",
		Short:         "Referral-gated investment ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.AddCommand(
		serveCmd,
		migrateCmd,
		demoCmd,
	)
}

func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration and builds the process logger. Subcommands that
// talk to external services call it from PreRunE.
func setup(*cobra.Command, []string) error {
	c, dotenv, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(c.LogLevel)
	if err != nil {
		return err
	}
	if !dotenv {
		logger.Info("no .env file found, using process environment")
	}
	cfg, log = c, logger
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: LOG_LEVEL: %w", config.ErrInvalid, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}
