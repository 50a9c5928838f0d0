// Package telemetry publishes pot sensor snapshots to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/config"
	"github.com/srg/potlink/internal/sensors"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
)

// Client is the subset of pahomqtt.Client the publisher drives
type Client interface {
	Connect() pahomqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends retained sensor snapshots and pot presence
type Publisher struct {
	client Client
	cfg    config.MQTTConfig
	logger *logrus.Logger

	mu     sync.Mutex
	closed bool
}

// Connect dials the configured broker
func Connect(cfg config.MQTTConfig, logger *logrus.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: no broker configured", ErrConnectionFailed)
	}
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(Topics{Prefix: cfg.TopicPrefix}.Status(), `{"status":"offline","reason":"unexpected_disconnect"}`, 1, true)
	if logger != nil {
		opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			logger.WithError(err).Warn("MQTT connection lost")
		})
	}

	return NewWithClient(pahomqtt.NewClient(opts), cfg, logger)
}

// NewWithClient connects through an existing client
func NewWithClient(client Client, cfg config.MQTTConfig, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := &Publisher{client: client, cfg: cfg, logger: logger}
	if err := p.publish(Topics{Prefix: cfg.TopicPrefix}.Status(), []byte(`{"status":"online"}`), true); err != nil {
		p.logger.WithError(err).Warn("Failed to publish online status")
	}
	logger.WithField("broker", cfg.Broker).Info("Telemetry connected")
	return p, nil
}

// SnapshotMessage is the retained document published per pot
type SnapshotMessage struct {
	DeviceID string           `json:"deviceId"`
	Name     string           `json:"name,omitempty"`
	Sensors  sensors.Snapshot `json:"sensors"`
	Findings []string         `json:"findings,omitempty"`
}

// PublishSnapshot publishes msg retained on the pot's sensors topic
func (p *Publisher) PublishSnapshot(msg SnapshotMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return p.publish(Topics{Prefix: p.cfg.TopicPrefix}.Sensors(msg.DeviceID), payload, true)
}

func (p *Publisher) publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, byte(p.cfg.QoS), retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	p.logger.WithFields(logrus.Fields{"topic": topic, "bytes": len(payload)}).Debug("Published telemetry")
	return nil
}

// Close publishes a graceful offline status and disconnects. Safe to call twice.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.client.IsConnected() {
		if err := p.publish(Topics{Prefix: p.cfg.TopicPrefix}.Status(), []byte(`{"status":"offline","reason":"shutdown"}`), true); err != nil {
			p.logger.WithError(err).Debug("Failed to publish offline status")
		}
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// Topics builds the topic tree under Prefix
type Topics struct {
	Prefix string
}

func (t Topics) Status() string {
	return t.join("status")
}

func (t Topics) Sensors(deviceID string) string {
	if deviceID == "" {
		return ""
	}
	return t.join("pots", sanitize(deviceID), "sensors")
}

func (t Topics) join(parts ...string) string {
	prefix := strings.Trim(t.Prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// sanitize strips MQTT wildcard and separator characters from a topic level
func sanitize(level string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(level)
}
