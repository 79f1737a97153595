// Package mqttbridge backs the sensor and actuator ports with an MQTT
// broker. Sensor ids are topics; the bridge caches the latest payload per
// topic and serves it without blocking. TRV setpoints are published to
// <id>/set and TRV internal temperatures read from <id>/current.
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/dmowbray/heatwarden/internal/heating"
	"github.com/dmowbray/heatwarden/internal/ports"
)

const commandTimeout = 5 * time.Second

type Config struct {
	BrokerURL string
	ClientID  string
	BaseTopic string
	QoS       byte
	Username  string
	Password  string

	// PublishInterval controls how often the published controller state is
	// mirrored to <BaseTopic>/state.
	PublishInterval time.Duration
}

// SnapshotFunc supplies the latest published controller state, nil before the
// first pass.
type SnapshotFunc func() *heating.State

type observed struct {
	payload string
	at      time.Time
}

type Bridge struct {
	cfg      Config
	topics   []string
	snapshot SnapshotFunc
	log      *logrus.Logger

	client mqtt.Client

	mu     sync.RWMutex
	values map[string]observed
}

// New builds a bridge subscribing to the given sensor/actuator topics.
// snapshot may be nil to disable state mirroring.
func New(cfg Config, topics []string, snapshot SnapshotFunc, log *logrus.Logger) (*Bridge, error) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "heatwarden"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "heatwarden"
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = time.Minute
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	return &Bridge{
		cfg:      cfg,
		topics:   topics,
		snapshot: snapshot,
		log:      log,
		values:   make(map[string]observed),
	}, nil
}

// Run connects, subscribes, and mirrors controller state until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.BrokerURL).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	// Subscribe on every (re)connect so retained sensor values repopulate
	// the cache after a broker outage.
	opts.OnConnect = func(cl mqtt.Client) {
		for _, topic := range b.topics {
			token := cl.Subscribe(topic, b.cfg.QoS, b.onMessage)
			token.Wait()
			if err := token.Error(); err != nil {
				b.log.WithField("topic", topic).WithError(err).Warn("mqtt subscribe failed")
			}
		}
	}

	b.client = mqtt.NewClient(opts)
	tok := b.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	ticker := time.NewTicker(b.cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.client.Disconnect(250)
			return ctx.Err()
		case <-ticker.C:
			b.publishState()
		}
	}
}

func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	b.observe(msg.Topic(), string(msg.Payload()), time.Now())
}

// observe records a payload for a topic. Split out of onMessage so the cache
// behavior is testable without a broker.
func (b *Bridge) observe(topic, payload string, at time.Time) {
	b.mu.Lock()
	b.values[topic] = observed{payload: payload, at: at}
	b.mu.Unlock()
}

// ReadSensor serves the most recently observed payload for a topic.
func (b *Bridge) ReadSensor(id string) ports.SensorSample {
	b.mu.RLock()
	obs, ok := b.values[id]
	b.mu.RUnlock()
	if !ok {
		return ports.SensorSample{}
	}
	return ports.SensorSample{Value: obs.payload, LastUpdated: obs.at, Available: true}
}

// CommandSetpoint publishes the setpoint to <id>/set.
func (b *Bridge) CommandSetpoint(id string, setpoint float64) error {
	if b.client == nil {
		return errors.New("mqtt: not connected")
	}
	payload := strconv.FormatFloat(setpoint, 'f', 1, 64)
	token := b.client.Publish(id+"/set", b.cfg.QoS, false, payload)
	if !token.WaitTimeout(commandTimeout) {
		return fmt.Errorf("mqtt: setpoint publish to %s timed out", id)
	}
	return token.Error()
}

// InternalTemperature parses the cached <id>/current payload.
func (b *Bridge) InternalTemperature(id string) (float64, bool) {
	sample := b.ReadSensor(id + "/current")
	if !sample.Available {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(sample.Value), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (b *Bridge) publishState() {
	if b.snapshot == nil || b.client == nil {
		return
	}
	state := b.snapshot()
	if state == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		b.log.WithError(err).Warn("failed to encode state for mqtt")
		return
	}
	b.client.Publish(b.topic("state"), b.cfg.QoS, true, data)
}

func (b *Bridge) topic(suffix string) string {
	return strings.TrimRight(b.cfg.BaseTopic, "/") + "/" + suffix
}
