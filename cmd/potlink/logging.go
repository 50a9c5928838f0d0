package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/potlink/internal/config"
)

// configureLogger builds the logger from the config, then applies flags.
// --log-level takes precedence over --verbose. Without either, only warnings
// and errors reach stderr so command output stays readable.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	levelStr, _ := cmd.Flags().GetString("log-level")
	if levelStr != "" {
		switch levelStr {
		case "debug", "info", "warn", "error":
			level, _ := logrus.ParseLevel(levelStr)
			logger.SetLevel(level)
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", levelStr)
		}
		return logger, nil
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
		return logger, nil
	}
	if !cmd.Flags().Changed("config") && logger.GetLevel() > logrus.WarnLevel {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger, nil
}
