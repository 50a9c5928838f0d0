//go:build test

package scanner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/registry"
	"github.com/srg/potlink/internal/scanner"
	"github.com/srg/potlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type ScannerTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	radio    *testutils.FakeRadio
	registry *registry.Registry
	clock    *fakeClock
	keepID   string
	keepMu   sync.Mutex
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.radio = suite.helper.NewFakeRadio()
	suite.registry = registry.New(5*time.Second, suite.helper.Logger)
	suite.clock = &fakeClock{now: time.Unix(1_700_000_000, 0)}
	suite.keepID = ""
}

func (suite *ScannerTestSuite) keep() string {
	suite.keepMu.Lock()
	defer suite.keepMu.Unlock()
	return suite.keepID
}

func (suite *ScannerTestSuite) newController(opts *scanner.Options) *scanner.Controller {
	c := scanner.New(suite.radio, suite.registry, suite.keep, opts, suite.helper.Logger)
	c.SetClock(suite.clock.Now)
	suite.T().Cleanup(c.Stop)
	return c
}

func (suite *ScannerTestSuite) status(c *scanner.Controller) scanner.Status {
	s, _ := c.Status()
	return s
}

func (suite *ScannerTestSuite) TestDefaultOptions() {
	opts := scanner.DefaultOptions()
	suite.Equal(10*time.Second, opts.ScanTimeout)
	suite.Equal(2500*time.Millisecond, opts.CleanupInterval)
	suite.Equal(20*time.Second, opts.RescanInterval)
	suite.Equal([]string{device.ServiceUUID}, opts.ServiceFilter)
}

func (suite *ScannerTestSuite) TestStartIsIdempotent() {
	// GOAL: Verify a second Start during a running burst does not touch the radio
	//
	// TEST SCENARIO: Start → Start → one radio scan with the vendor filter → status scanning

	c := suite.newController(nil)
	suite.Equal(scanner.StatusIdle, suite.status(c))

	suite.Require().NoError(c.Start(context.Background()))
	suite.Require().NoError(c.Start(context.Background()))

	suite.Equal(1, suite.radio.ScanStarts(), "radio scan MUST start once")
	suite.Equal([]string{device.ServiceUUID}, suite.radio.ScanFilter(), "scan MUST be filtered to the vendor service")
	suite.Equal(scanner.StatusScanning, suite.status(c))
}

func (suite *ScannerTestSuite) TestDiscoveryFeedsRegistry() {
	c := suite.newController(nil)
	suite.Require().NoError(c.Start(context.Background()))

	suite.True(suite.radio.Advertise(device.Advertisement{ID: "D1", LocalName: "SMARTPot", RSSI: -50, ManufacturerData: []byte{0x01}}))
	suite.clock.Advance(time.Second)
	suite.True(suite.radio.Advertise(device.Advertisement{ID: "D1", LocalName: "SMARTPot", RSSI: -48}))

	snap := suite.registry.Snapshot()
	suite.Require().Len(snap, 1, "duplicate sightings MUST merge into one entry")
	suite.Equal(suite.clock.Now(), snap[0].LastSeen, "latest sighting MUST refresh LastSeen")
	suite.Equal(-48, snap[0].RSSI)

	first := <-c.Events()
	second := <-c.Events()
	suite.Equal(scanner.EventNew, first.Type)
	suite.Equal(scanner.EventUpdated, second.Type)
}

func (suite *ScannerTestSuite) TestDeadlineFinishesBurst() {
	// GOAL: Verify the scan deadline stops the radio and flips the status to finished
	//
	// TEST SCENARIO: Start with 30ms timeout → wait → radio stopped → status finished

	c := suite.newController(&scanner.Options{ScanTimeout: 30 * time.Millisecond, CleanupInterval: time.Hour})
	suite.Require().NoError(c.Start(context.Background()))

	suite.Eventually(func() bool {
		return suite.status(c) == scanner.StatusFinished
	}, testutils.WaitTimeout, testutils.WaitTick, "status MUST become finished after the deadline")
	suite.False(suite.radio.IsScanning(), "radio scan MUST be stopped at the deadline")
}

func (suite *ScannerTestSuite) TestStopTwiceMatchesStopOnce() {
	// GOAL: Verify Stop is idempotent and late callbacks are ignored
	//
	// TEST SCENARIO: Start → capture handler → Stop → Stop → late advertisement → registry unchanged

	c := suite.newController(nil)
	suite.Require().NoError(c.Start(context.Background()))
	late := suite.radio.HandlerForLateDelivery()
	suite.Require().NotNil(late)

	c.Stop()
	stopsAfterFirst := suite.radio.ScanStops()
	statusAfterFirst := suite.status(c)
	c.Stop()

	suite.Equal(scanner.StatusFinished, statusAfterFirst)
	suite.Equal(statusAfterFirst, suite.status(c), "second Stop MUST leave the same status")
	suite.Equal(stopsAfterFirst, suite.radio.ScanStops(), "second Stop MUST NOT touch the radio")
	suite.False(suite.radio.IsScanning())

	suite.NotPanics(func() {
		late(&device.Advertisement{ID: "LATE"}, nil)
		late(nil, errors.New("late radio error"))
	})
	suite.Zero(suite.registry.Len(), "late advertisement MUST be ignored")
	suite.Equal(scanner.StatusFinished, suite.status(c), "late error MUST NOT change status")
}

func (suite *ScannerTestSuite) TestCleanupSparesActiveDevice() {
	// GOAL: Verify the cleanup timer evicts stale devices except the active session device
	//
	// TEST SCENARIO: D1, D2 seen → keep=D1 → clock +6s → cleanup tick → D2 evicted, D1 kept

	c := suite.newController(&scanner.Options{ScanTimeout: time.Hour, CleanupInterval: 10 * time.Millisecond})
	suite.Require().NoError(c.Start(context.Background()))
	suite.radio.Advertise(device.Advertisement{ID: "D1"})
	suite.radio.Advertise(device.Advertisement{ID: "D2"})

	suite.keepMu.Lock()
	suite.keepID = "D1"
	suite.keepMu.Unlock()
	suite.clock.Advance(6 * time.Second)

	suite.Eventually(func() bool {
		_, ok := suite.registry.Get("D2")
		return !ok
	}, testutils.WaitTimeout, testutils.WaitTick, "stale device MUST be evicted")
	_, ok := suite.registry.Get("D1")
	suite.True(ok, "active session device MUST survive eviction")
}

func (suite *ScannerTestSuite) TestCallbackErrorStopsScan() {
	// GOAL: Verify a radio error delivered through the callback sets status error without escaping
	//
	// TEST SCENARIO: Start → FailScan → status error with typed cause → radio stopped

	c := suite.newController(nil)
	var seen []scanner.Status
	var mu sync.Mutex
	c.SetStatusListener(func(s scanner.Status, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
		if s == scanner.StatusError {
			panic("listener panics are contained")
		}
	})
	suite.Require().NoError(c.Start(context.Background()))

	suite.NotPanics(func() {
		suite.radio.FailScan(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"))
	})

	status, err := c.Status()
	suite.Equal(scanner.StatusError, status)
	suite.ErrorIs(err, device.ErrRadioUnavailable, "scan error MUST be normalized")
	suite.False(suite.radio.IsScanning(), "radio MUST be stopped after a scan error")

	mu.Lock()
	suite.Equal([]scanner.Status{scanner.StatusScanning, scanner.StatusError}, seen)
	mu.Unlock()
}

func (suite *ScannerTestSuite) TestCallbackErrorHaltsCleanup() {
	// GOAL: Verify a scan error stops the cleanup timer too, and a new Start re-arms it
	//
	// TEST SCENARIO: D1 seen → FailScan → clock +6s → no eviction → Start → D1 evicted

	c := suite.newController(&scanner.Options{ScanTimeout: time.Hour, CleanupInterval: 5 * time.Millisecond})
	suite.Require().NoError(c.Start(context.Background()))
	suite.radio.Advertise(device.Advertisement{ID: "D1"})

	suite.True(suite.radio.FailScan(errors.New("bluetooth is turned off")))
	suite.clock.Advance(6 * time.Second)

	suite.Never(func() bool {
		_, ok := suite.registry.Get("D1")
		return !ok
	}, 50*time.Millisecond, testutils.WaitTick, "errored controller MUST NOT keep sweeping")

	suite.Require().NoError(c.Start(context.Background()))
	suite.Eventually(func() bool {
		_, ok := suite.registry.Get("D1")
		return !ok
	}, testutils.WaitTimeout, testutils.WaitTick, "restarted controller MUST resume eviction")
}

func (suite *ScannerTestSuite) TestStartFailure() {
	suite.radio.WithScanError(errors.New("bluetooth is turned off"))
	c := suite.newController(nil)

	err := c.Start(context.Background())
	suite.ErrorIs(err, device.ErrRadioUnavailable)
	status, cause := c.Status()
	suite.Equal(scanner.StatusError, status)
	suite.ErrorIs(cause, device.ErrRadioUnavailable)
}

func (suite *ScannerTestSuite) TestPeriodicRescan() {
	// GOAL: Verify finished bursts restart on the rescan interval and Refresh restarts immediately
	//
	// TEST SCENARIO: 10ms burst, 40ms rescan → at least two radio scans → Refresh → one more scan

	c := suite.newController(&scanner.Options{
		ScanTimeout:     10 * time.Millisecond,
		CleanupInterval: time.Hour,
		RescanInterval:  40 * time.Millisecond,
	})
	suite.Require().NoError(c.Start(context.Background()))

	suite.Eventually(func() bool {
		return suite.radio.ScanStarts() >= 2
	}, testutils.WaitTimeout, testutils.WaitTick, "rescan MUST start a new burst")

	c.Stop()
	before := suite.radio.ScanStarts()
	time.Sleep(100 * time.Millisecond)
	suite.Equal(before, suite.radio.ScanStarts(), "stopped controller MUST NOT rescan")

	suite.Require().NoError(c.Refresh(context.Background()))
	suite.Equal(before+1, suite.radio.ScanStarts(), "Refresh MUST start a burst immediately")
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
