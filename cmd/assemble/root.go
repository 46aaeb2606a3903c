package main

import (
	"github.com/nextconvert/assembler/internal/shared/config"
	"github.com/nextconvert/assembler/internal/shared/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// commandContext carries what every subcommand shares.
type commandContext struct {
	logLevel string
	cfg      *config.Config
	logger   *zap.Logger
}

func (c *commandContext) ensure() error {
	if c.cfg != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}
	logger, err := logging.NewLogger(level, cfg.Environment)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	return nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "assemble",
		Short:         "Assemble narrated scenes into a video",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			return ctx.ensure()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newValidateAnimationCommand())

	return rootCmd
}
