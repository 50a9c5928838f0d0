//go:build test

package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/session"
	"github.com/srg/potlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type SessionTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	radio    *testutils.FakeRadio
	reporter *recordingReporter
	session  *session.Session

	mu          sync.Mutex
	transitions []session.Transition
}

func (suite *SessionTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.radio = suite.helper.NewFakeRadio().
		WithPeripheral(testutils.NewFakePot("D1").Build()).
		WithPeripheral(testutils.NewFakePot("D2").Build())
	suite.reporter = &recordingReporter{}
	suite.newSession(&session.Options{Reporter: suite.reporter})
}

func (suite *SessionTestSuite) newSession(opts *session.Options) {
	suite.session = session.New(suite.radio, opts, suite.helper.Logger)
	suite.mu.Lock()
	suite.transitions = nil
	suite.mu.Unlock()
	suite.session.Observe(func(t session.Transition) {
		suite.mu.Lock()
		defer suite.mu.Unlock()
		suite.transitions = append(suite.transitions, t)
	})
}

func (suite *SessionTestSuite) TearDownTest() {
	_ = suite.session.Close(context.Background())
}

func (suite *SessionTestSuite) states() []session.State {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	out := make([]session.State, 0, len(suite.transitions))
	for _, t := range suite.transitions {
		out = append(out, t.To)
	}
	return out
}

func (suite *SessionTestSuite) resetTransitions() {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	suite.transitions = nil
}

// assertContiguous checks every observed transition follows the graph with no skipped states
func (suite *SessionTestSuite) assertContiguous() {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	prev := session.Disconnected
	for i, t := range suite.transitions {
		suite.Equal(prev, t.From, "transition %d MUST start where the previous ended", i)
		suite.True(session.CanTransition(t.From, t.To), "transition %s→%s MUST be in the graph", t.From, t.To)
		prev = t.To
	}
}

func (suite *SessionTestSuite) TestConnectSuccess() {
	// GOAL: Verify a successful connect walks Connecting → Connected and fires OnConnected once
	//
	// TEST SCENARIO: Connect D1 → handle D1 → observers saw two transitions → repeat Connect is a no-op

	var connected []string
	h, err := suite.session.Connect(context.Background(), "D1", &session.ConnectOptions{
		OnConnected: func(h device.Handle) { connected = append(connected, h.ID()) },
	})
	suite.Require().NoError(err, "connect MUST succeed")
	suite.Equal("D1", h.ID())
	suite.Equal("SMARTPot", h.Name())
	suite.Equal([]string{"D1"}, connected, "OnConnected MUST run once")
	suite.Equal([]session.State{session.Connecting, session.Connected}, suite.states())
	suite.Equal("D1", suite.session.ActiveDeviceID())

	select {
	case <-suite.session.Lost():
		suite.Fail("Lost MUST stay open while connected")
	default:
	}

	again, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)
	suite.Equal(h, again, "connect to the connected device MUST return the existing handle")
	suite.Equal(1, suite.radio.ConnectCount("D1"), "repeat connect MUST NOT dial")
	suite.Len(suite.states(), 2)
	suite.assertContiguous()
}

func (suite *SessionTestSuite) TestConnectFailure() {
	// GOAL: Verify failures walk through Error to Disconnected and reach the reporter unless suppressed
	//
	// TEST SCENARIO: D1 refuses → Connecting, Error, Disconnected + reported; suppressed → not reported

	suite.radio.Peripheral("D1").ConnectErr = errors.New("connection failed: peer refused")

	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.ErrorIs(err, device.ErrConnectFailed, "refusal MUST map to ConnectFailed")
	suite.True(device.IsRetryable(err))
	suite.Equal([]session.State{session.Connecting, session.Error, session.Disconnected}, suite.states())
	suite.Len(suite.reporter.Errors(), 1, "failure MUST be surfaced")
	suite.Empty(suite.session.ActiveDeviceID())

	_, err = suite.session.Connect(context.Background(), "D1", &session.ConnectOptions{SuppressErrors: true})
	suite.Error(err)
	suite.Len(suite.reporter.Errors(), 1, "suppressed failure MUST NOT be surfaced")
	suite.assertContiguous()
}

func (suite *SessionTestSuite) TestConnectTimeout() {
	suite.newSession(&session.Options{ConnectTimeout: 30 * time.Millisecond, Reporter: suite.reporter})
	suite.radio.Peripheral("D1").ConnectGate = make(chan struct{})

	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.ErrorIs(err, device.ErrConnectTimeout, "hung dial MUST fail with ConnectTimeout")
	suite.Equal(session.Disconnected, suite.session.State())
}

func (suite *SessionTestSuite) TestConnectVerifiesLiveness() {
	// GOAL: Verify a dial that returns without a live link does not declare Connected
	//
	// TEST SCENARIO: D1 dead link → ConnectFailed → half-open link cancelled

	suite.radio.Peripheral("D1").DeadLink = true

	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.ErrorIs(err, device.ErrConnectFailed)
	suite.Equal(1, suite.radio.CancelCount("D1"), "half-open link MUST be cancelled")
	suite.Equal(session.Disconnected, suite.session.State())
}

func (suite *SessionTestSuite) TestDropFiresListenerOnce() {
	// GOAL: Verify an unsolicited disconnect flips state and invokes the drop listener exactly once
	//
	// TEST SCENARIO: Connect D1 → radio drops D1 twice → state Disconnected → listener called once with D1

	var mu sync.Mutex
	var dropped []string
	suite.session.SetDropListener(func(h device.Handle) {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, h.ID())
	})

	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)
	lost := suite.session.Lost()

	suite.radio.Drop("D1")
	suite.radio.Drop("D1")

	suite.Equal(session.Disconnected, suite.session.State())
	mu.Lock()
	suite.Equal([]string{"D1"}, dropped, "drop listener MUST fire exactly once")
	mu.Unlock()

	select {
	case <-lost:
	default:
		suite.Fail("Lost MUST be closed after a drop")
	}
	suite.Equal([]session.State{session.Connecting, session.Connected, session.Disconnected}, suite.states())
	suite.assertContiguous()
}

func (suite *SessionTestSuite) TestDropListenerIsSingleSlot() {
	var first, second int
	unsubFirst := suite.session.SetDropListener(func(device.Handle) { first++ })
	suite.session.SetDropListener(func(device.Handle) { second++ })
	unsubFirst()

	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)
	suite.radio.Drop("D1")

	suite.Zero(first, "replaced listener MUST NOT fire")
	suite.Equal(1, second, "stale unsubscribe MUST NOT clear the current listener")
}

func (suite *SessionTestSuite) TestDisconnect() {
	// GOAL: Verify user disconnects walk Disconnecting → Disconnected and never look like drops
	//
	// TEST SCENARIO: Connect D1 → Disconnect → radio reports the cancel → drop listener silent

	drops := 0
	suite.session.SetDropListener(func(device.Handle) { drops++ })
	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)

	suite.Require().NoError(suite.session.Disconnect(context.Background()))
	suite.Equal(session.Disconnected, suite.session.State())
	suite.False(suite.radio.IsLinked("D1"))
	suite.Zero(drops, "user disconnect MUST NOT fire the drop listener")
	suite.Equal([]session.State{session.Connecting, session.Connected, session.Disconnecting, session.Disconnected}, suite.states())

	suite.NoError(suite.session.Disconnect(context.Background()), "disconnect when idle MUST be a no-op")
	suite.assertContiguous()
}

func (suite *SessionTestSuite) TestDisconnectFailureRevertsToConnected() {
	suite.radio.Peripheral("D1").CancelErr = errors.New("att: request in flight")
	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)

	err = suite.session.Disconnect(context.Background())
	suite.Error(err, "failed cancel MUST be returned")
	suite.Equal(session.Connected, suite.session.State(), "failed cancel MUST leave the link Connected")
	suite.Len(suite.reporter.Errors(), 1, "failed cancel MUST be surfaced")
	suite.Equal([]session.State{session.Connecting, session.Connected, session.Disconnecting, session.Connected}, suite.states())
	suite.assertContiguous()

	suite.radio.Peripheral("D1").CancelErr = nil
}

func (suite *SessionTestSuite) TestSwitchingDevicesReleasesPrevious() {
	// GOAL: Verify connecting to another device never leaves two links up
	//
	// TEST SCENARIO: Connect D1 → Connect D2 → D1 cancelled first → D2 connected; then disconnect → connect D1

	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)
	h, err := suite.session.Connect(context.Background(), "D2", nil)
	suite.Require().NoError(err)

	suite.Equal("D2", h.ID())
	suite.False(suite.radio.IsLinked("D1"), "previous link MUST be torn down")
	suite.True(suite.radio.IsLinked("D2"))
	suite.Equal([]session.State{
		session.Connecting, session.Connected,
		session.Disconnecting, session.Disconnected,
		session.Connecting, session.Connected,
	}, suite.states())

	suite.Require().NoError(suite.session.Disconnect(context.Background()))
	_, err = suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)
	suite.False(suite.radio.IsLinked("D2"))
	suite.assertContiguous()
}

func (suite *SessionTestSuite) TestReconnect() {
	// GOAL: Verify Reconnect is a single attempt that reports its outcome without surfacing errors
	//
	// TEST SCENARIO: drop D1 → Reconnect ok → drop again with D1 refusing → Reconnect false → Disconnected

	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)
	suite.radio.Drop("D1")

	suite.True(suite.session.Reconnect(context.Background(), "D1"), "reconnect MUST succeed")
	suite.Equal(session.Connected, suite.session.State())
	suite.Equal(2, suite.radio.ConnectCount("D1"))

	suite.radio.Drop("D1")
	suite.radio.Peripheral("D1").ConnectErr = errors.New("connection failed")
	suite.resetTransitions()

	suite.False(suite.session.Reconnect(context.Background(), "D1"))
	suite.Equal(3, suite.radio.ConnectCount("D1"), "reconnect MUST make exactly one attempt")
	suite.Equal([]session.State{session.Connecting, session.Disconnected}, suite.states())
	suite.Empty(suite.reporter.Errors(), "failed reconnect MUST NOT be surfaced")
}

func (suite *SessionTestSuite) TestConcurrentConnectIsBusy() {
	gate := make(chan struct{})
	suite.radio.Peripheral("D1").ConnectGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := suite.session.Connect(context.Background(), "D1", nil)
		done <- err
	}()
	suite.Eventually(func() bool { return suite.session.State() == session.Connecting }, testutils.WaitTimeout, testutils.WaitTick)

	_, err := suite.session.Connect(context.Background(), "D2", nil)
	suite.ErrorIs(err, device.ErrSessionBusy, "second connect MUST be rejected while connecting")
	suite.Equal("D1", suite.session.ActiveDeviceID())

	close(gate)
	suite.NoError(<-done)
}

func (suite *SessionTestSuite) TestAbortedConnectDiscardsLateSuccess() {
	// GOAL: Verify a connect that completes after being aborted is discarded and its link released
	//
	// TEST SCENARIO: Connect D1 blocks → Disconnect aborts → gate opens → ErrStaleResult → link cancelled

	gate := make(chan struct{})
	suite.radio.Peripheral("D1").ConnectGate = gate

	done := make(chan error, 1)
	go func() {
		_, err := suite.session.Connect(context.Background(), "D1", nil)
		done <- err
	}()
	suite.Eventually(func() bool { return suite.session.State() == session.Connecting }, testutils.WaitTimeout, testutils.WaitTick)

	suite.Require().NoError(suite.session.Disconnect(context.Background()))
	suite.Equal(session.Disconnected, suite.session.State())

	close(gate)
	err := <-done
	suite.ErrorIs(err, device.ErrStaleResult, "late success MUST be reported stale")
	suite.False(suite.radio.IsLinked("D1"), "late link MUST be cancelled")
	suite.Equal(session.Disconnected, suite.session.State(), "late success MUST NOT mutate the session")
	suite.Empty(suite.reporter.Errors())
	suite.assertContiguous()
}

func (suite *SessionTestSuite) TestClosedSessionRefusesConnect() {
	_, err := suite.session.Connect(context.Background(), "D1", nil)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.session.Close(context.Background()))

	suite.False(suite.radio.IsLinked("D1"), "Close MUST release the link")
	_, err = suite.session.Connect(context.Background(), "D1", nil)
	suite.ErrorIs(err, device.ErrNotConnected)
	suite.False(suite.session.Reconnect(context.Background(), "D1"))
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
