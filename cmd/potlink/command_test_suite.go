//go:build test

package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/store"
	"github.com/srg/potlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// TestPotID is the radio id of the scripted pot used by command tests
const TestPotID = "AA:BB:CC:DD:EE:01"

// testConfig keeps every lifecycle timeout short so failures surface fast
const testConfig = `log_level: warn
scan_timeout: 1s
cleanup_interval: 1h
connect_timeout: 500ms
reconnect_timeout: 500ms
ack_timeout: 1s
reconnect_attempts: 1
reconnect_backoff: 10ms
power_poll_interval: 5ms
`

// CommandTestSuite runs potlink commands against a fake radio and an in-memory store.
// All cmd/potlink test suites that execute commands should embed it.
type CommandTestSuite struct {
	suite.Suite
	Helper     *testutils.TestHelper
	Radio      *testutils.FakeRadio
	Blobs      *store.MemoryBlobStore
	ConfigPath string
	Stderr     *bytes.Buffer

	originalRadioFactory func(*logrus.Logger) (device.Radio, func() error, error)
	originalStoreFactory func(string, *logrus.Logger) (store.BlobStore, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Radio = s.Helper.NewFakeRadio()
	s.Blobs = store.NewMemoryBlobStore()
	s.Stderr = new(bytes.Buffer)

	s.ConfigPath = filepath.Join(s.T().TempDir(), "potlink.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(testConfig), 0o600), "config write MUST succeed")

	s.originalRadioFactory = RadioFactory
	s.originalStoreFactory = BlobStoreFactory
	RadioFactory = func(*logrus.Logger) (device.Radio, func() error, error) {
		return s.Radio, func() error { return nil }, nil
	}
	BlobStoreFactory = func(string, *logrus.Logger) (store.BlobStore, error) {
		return s.Blobs, nil
	}
	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	RadioFactory = s.originalRadioFactory
	BlobStoreFactory = s.originalStoreFactory
}

// Paired returns the store view the commands write through
func (s *CommandTestSuite) Paired() store.PairedDevices {
	return store.NewBlobPairedDevices(s.Blobs)
}

// ExecuteCommand runs potlink with args against the test config, returns stdout and error.
// Log output is collected in Stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	defer resetFlags(rootCmd)
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(s.Stderr)
	rootCmd.SetArgs(append(args, "--config", s.ConfigPath, "--store", s.T().TempDir()))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag of cmd and its children to its default,
// cobra keeps parsed values between Execute calls
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
