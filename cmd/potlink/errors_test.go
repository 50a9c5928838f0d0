//go:build test

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/potlink/internal/config"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/pot"
	"github.com/stretchr/testify/suite"
)

type ErrorsTestSuite struct {
	suite.Suite
}

func (suite *ErrorsTestSuite) TestFormatUserError() {
	// GOAL: Verify terminal errors carry the user message and next step

	suite.Empty(FormatUserError(nil))
	suite.Equal("interrupted by user", FormatUserError(fmt.Errorf("pairing: %w", ErrInterrupted)))
	suite.Equal("plain failure", FormatUserError(errors.New("plain failure")), "untyped errors MUST print as is")

	notPaired := FormatUserError(fmt.Errorf("%w: local-1", pot.ErrNotPaired))
	suite.Contains(notPaired, "local-1")
	suite.Contains(notPaired, "potlink devices")

	radio := FormatUserError(device.NewError(device.RadioUnavailable, "powered off", nil))
	suite.Contains(radio, "ERROR: Bluetooth is unavailable")
	suite.Contains(radio, "(next: ", "radio failures MUST suggest a next step")
}

func newLoggerTestCmd(args ...string) *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	_ = cmd.Flags().Parse(args)
	return cmd
}

func (suite *ErrorsTestSuite) TestConfigureLoggerLevels() {
	cfg := config.DefaultConfig()

	logger, err := configureLogger(newLoggerTestCmd(), cfg)
	suite.Require().NoError(err)
	suite.Equal(logrus.WarnLevel, logger.GetLevel(), "default MUST keep info logs off the terminal")

	logger, err = configureLogger(newLoggerTestCmd("--verbose"), cfg)
	suite.Require().NoError(err)
	suite.Equal(logrus.DebugLevel, logger.GetLevel())

	logger, err = configureLogger(newLoggerTestCmd("--verbose", "--log-level", "error"), cfg)
	suite.Require().NoError(err)
	suite.Equal(logrus.ErrorLevel, logger.GetLevel(), "--log-level MUST win over --verbose")

	logger, err = configureLogger(newLoggerTestCmd("--config", "potlink.yaml"), cfg)
	suite.Require().NoError(err)
	suite.Equal(logrus.InfoLevel, logger.GetLevel(), "an explicit config MUST keep its level")

	_, err = configureLogger(newLoggerTestCmd("--log-level", "trace"), cfg)
	suite.ErrorContains(err, "invalid log level")
}

func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
