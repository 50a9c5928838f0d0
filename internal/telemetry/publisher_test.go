//go:build test

package telemetry_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/srg/potlink/internal/config"
	"github.com/srg/potlink/internal/sensors"
	"github.com/srg/potlink/internal/telemetry"
	"github.com/srg/potlink/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeClient struct {
	mu           sync.Mutex
	connectErr   error
	publishErr   error
	connected    bool
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: string(payload.([]byte))})
	return &fakeToken{err: c.publishErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) Messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

type PublisherTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	client *fakeClient
	cfg    config.MQTTConfig
}

func (suite *PublisherTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.client = &fakeClient{}
	suite.cfg = config.DefaultConfig().MQTT
	suite.cfg.Broker = "tcp://127.0.0.1:1883"
}

func (suite *PublisherTestSuite) TestPublishSnapshot() {
	// GOAL: Verify snapshots are published retained on the per-pot topic
	//
	// TEST SCENARIO: connect → online status → publish snapshot → close → offline status, disconnected

	p, err := telemetry.NewWithClient(suite.client, suite.cfg, suite.helper.Logger)
	suite.Require().NoError(err)

	light := 120.0
	err = p.PublishSnapshot(telemetry.SnapshotMessage{
		DeviceID: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		Name:     "Fern",
		Sensors:  sensors.Snapshot{Light: sensors.Reading{Connected: true, Value: &light}},
	})
	suite.Require().NoError(err)
	suite.Require().NoError(p.Close())
	suite.Require().NoError(p.Close(), "second Close MUST be a no-op")

	msgs := suite.client.Messages()
	suite.Require().Len(msgs, 3)
	suite.Equal("potlink/status", msgs[0].topic)
	suite.JSONEq(`{"status":"online"}`, msgs[0].payload)

	suite.Equal("potlink/pots/6e400001-b5a3-f393-e0a9-e50e24dcca9e/sensors", msgs[1].topic)
	suite.True(msgs[1].retained, "snapshots MUST be retained")
	suite.Equal(byte(1), msgs[1].qos)
	testutils.NewJSONAsserter(suite.T()).Assert(msgs[1].payload, `{
		"deviceId": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		"name": "Fern",
		"sensors": {"light": {"connected": true, "value": 120}}
	}`)

	suite.JSONEq(`{"status":"offline","reason":"shutdown"}`, msgs[2].payload)
	suite.True(suite.client.disconnected)

	err = p.PublishSnapshot(telemetry.SnapshotMessage{DeviceID: "x"})
	suite.ErrorIs(err, telemetry.ErrNotConnected, "publish after Close MUST fail")
}

func (suite *PublisherTestSuite) TestConnectFailure() {
	suite.client.connectErr = errors.New("connection refused")
	_, err := telemetry.NewWithClient(suite.client, suite.cfg, suite.helper.Logger)
	suite.ErrorIs(err, telemetry.ErrConnectionFailed)

	suite.cfg.QoS = 3
	_, err = telemetry.NewWithClient(&fakeClient{}, suite.cfg, suite.helper.Logger)
	suite.ErrorIs(err, telemetry.ErrInvalidQoS)

	_, err = telemetry.Connect(config.MQTTConfig{}, suite.helper.Logger)
	suite.ErrorIs(err, telemetry.ErrConnectionFailed, "missing broker MUST be rejected")
}

func (suite *PublisherTestSuite) TestPublishErrors() {
	p, err := telemetry.NewWithClient(suite.client, suite.cfg, suite.helper.Logger)
	suite.Require().NoError(err)

	suite.ErrorIs(p.PublishSnapshot(telemetry.SnapshotMessage{}), telemetry.ErrInvalidTopic)

	suite.client.publishErr = errors.New("broker unavailable")
	suite.ErrorIs(p.PublishSnapshot(telemetry.SnapshotMessage{DeviceID: "D1"}), telemetry.ErrPublishFailed)
}

func (suite *PublisherTestSuite) TestTopics() {
	topics := telemetry.Topics{Prefix: "/home/pots/"}
	suite.Equal("home/pots/status", topics.Status())
	suite.Equal("home/pots/pots/a_b_c/sensors", topics.Sensors("a/b+c"), "wildcards MUST NOT leak into topic levels")
	suite.Empty(topics.Sensors(""))
}

func TestPublisherTestSuite(t *testing.T) {
	suite.Run(t, new(PublisherTestSuite))
}
