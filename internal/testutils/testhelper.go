package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// Polling defaults for asynchronous assertions
const (
	WaitTimeout = 2 * time.Second
	WaitTick    = 5 * time.Millisecond
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewFakeRadio creates a fake radio sharing the helper logger
func (h *TestHelper) NewFakeRadio() *FakeRadio {
	return NewFakeRadio(h.Logger)
}
