//go:build test

package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/config"
	"github.com/srg/potlink/internal/plants"
	"github.com/srg/potlink/internal/pot"
	"github.com/srg/potlink/internal/store"
	"github.com/srg/potlink/internal/telemetry"
	"github.com/srg/potlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const saturatedSoil = `[{"name": "Soil Moisture", "connected": true, "data": {"moisture": 1700}}]`

// recordingPublisher captures published snapshots
type recordingPublisher struct {
	mu       sync.Mutex
	broker   string
	messages []telemetry.SnapshotMessage
	closed   bool
	err      error
}

func (p *recordingPublisher) PublishSnapshot(msg telemetry.SnapshotMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type MonitorTestSuite struct {
	CommandTestSuite
	publisher                *recordingPublisher
	originalTelemetryFactory func(config.MQTTConfig, *logrus.Logger) (snapshotPublisher, error)
}

func (suite *MonitorTestSuite) SetupTest() {
	suite.CommandTestSuite.SetupTest()
	suite.publisher = &recordingPublisher{}
	suite.originalTelemetryFactory = TelemetryFactory
	TelemetryFactory = func(cfg config.MQTTConfig, _ *logrus.Logger) (snapshotPublisher, error) {
		suite.publisher.broker = cfg.Broker
		return suite.publisher, nil
	}
}

func (suite *MonitorTestSuite) TearDownTest() {
	TelemetryFactory = suite.originalTelemetryFactory
	suite.CommandTestSuite.TearDownTest()
}

func (suite *MonitorTestSuite) TestMonitorPrintsSnapshotAndFindings() {
	// GOAL: Verify monitor prints readings and checks them against the Generic profile
	//
	// TEST SCENARIO: pot reports saturated soil → one snapshot line → too-wet finding → no telemetry without a broker

	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).WithSensorsJSON(saturatedSoil).Build())

	out, err := suite.ExecuteCommand("monitor", TestPotID, "--count", "1")
	suite.Require().NoError(err, "monitor MUST succeed")
	suite.Contains(out, "Monitoring pot (Generic, metric)")
	suite.Contains(out, "temperature disconnected")
	suite.Contains(out, "moisture 1700 (Saturated)")
	suite.Contains(out, "soil is too wet for Generic (Saturated)")
	suite.Empty(suite.publisher.messages, "telemetry MUST stay off without a broker")
}

func (suite *MonitorTestSuite) TestMonitorUsesPairedProfile() {
	suite.Require().NoError(store.Put(context.Background(), suite.Paired(), store.PairedDeviceRecord{
		ID: "local-1", Name: "Fern", Plant: "Fern", MeasurementSystem: plants.Imperial,
	}))
	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).WithSensorsJSON(saturatedSoil).Build())

	out, err := suite.ExecuteCommand("monitor", TestPotID, "--count", "1", "--local-id", "local-1")
	suite.Require().NoError(err)
	suite.Contains(out, "Monitoring Fern (Fern, imperial)")
	suite.Contains(out, "soil is too wet for Fern")
}

func (suite *MonitorTestSuite) TestMonitorUnknownLocalID() {
	_, err := suite.ExecuteCommand("monitor", TestPotID, "--local-id", "missing")
	suite.ErrorIs(err, pot.ErrNotPaired)
	suite.Zero(suite.Radio.ConnectCount(TestPotID), "unknown record MUST fail before connecting")
}

func (suite *MonitorTestSuite) TestMonitorPublishesTelemetry() {
	// GOAL: Verify every snapshot is published when a broker is given

	suite.publisher.err = errors.New("broker unavailable")
	suite.Radio.WithPeripheral(testutils.NewFakePot(TestPotID).WithSensorsJSON(saturatedSoil).Build())

	_, err := suite.ExecuteCommand("monitor", TestPotID, "--count", "1", "--mqtt-broker", "tcp://localhost:1883")
	suite.Require().NoError(err, "publish failures MUST NOT stop monitoring")

	suite.Equal("tcp://localhost:1883", suite.publisher.broker)
	suite.Require().Len(suite.publisher.messages, 1)
	msg := suite.publisher.messages[0]
	suite.Equal(TestPotID, msg.DeviceID)
	suite.Equal([]string{"soil is too wet for Generic (Saturated)"}, msg.Findings)
	suite.True(suite.publisher.closed, "publisher MUST be closed on exit")
}

func (suite *MonitorTestSuite) TestMonitorRejectsNegativeCount() {
	_, err := suite.ExecuteCommand("monitor", TestPotID, "--count", "-1")
	suite.ErrorContains(err, "invalid count")
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
