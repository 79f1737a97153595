// Package modbusbridge backs the sensor and actuator ports with Modbus TCP
// devices. Each sensor or valve maps to a unit id plus register addresses;
// temperatures travel as scaled signed 16-bit integers.
package modbusbridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"

	"github.com/dmowbray/heatwarden/internal/ports"
)

// RegisterMap locates one device's registers. Input is read for the current
// temperature, Holding written for the setpoint. Scale converts between
// register counts and degrees (a scale of 100 stores 21.5 °C as 2150).
type RegisterMap struct {
	UnitID  byte
	Input   uint16
	Holding uint16
	Scale   float64
}

type Config struct {
	Addr      string
	Timeout   time.Duration
	Sensors   map[string]RegisterMap
	Actuators map[string]RegisterMap
}

type Bridge struct {
	cfg     Config
	handler *modbus.TCPClientHandler
	client  modbus.Client
	log     *logrus.Logger

	// The goburrow handler carries the unit id as mutable state, so all
	// register traffic is serialized.
	mu sync.Mutex
}

func New(cfg Config, log *logrus.Logger) (*Bridge, error) {
	if cfg.Addr == "" {
		return nil, errors.New("modbus: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	handler := modbus.NewTCPClientHandler(cfg.Addr)
	handler.Timeout = cfg.Timeout
	return &Bridge{
		cfg:     cfg,
		handler: handler,
		client:  modbus.NewClient(handler),
		log:     log,
	}, nil
}

// Connect dials the Modbus gateway. The connection is reused for all traffic.
func (b *Bridge) Connect() error {
	if err := b.handler.Connect(); err != nil {
		return fmt.Errorf("modbus connect: %w", err)
	}
	return nil
}

func (b *Bridge) Close() error {
	return b.handler.Close()
}

// ReadSensor reads a mapped sensor's input register. Register reads are
// always fresh, so LastUpdated is the read time.
func (b *Bridge) ReadSensor(id string) ports.SensorSample {
	reg, ok := b.cfg.Sensors[id]
	if !ok {
		return ports.SensorSample{}
	}
	value, err := b.readTemperature(reg)
	if err != nil {
		b.log.WithField("sensor", id).WithError(err).Warn("modbus read failed")
		return ports.SensorSample{}
	}
	return ports.SensorSample{
		Value:       strconv.FormatFloat(value, 'f', 2, 64),
		LastUpdated: time.Now(),
		Available:   true,
	}
}

// InternalTemperature reads a mapped valve's input register.
func (b *Bridge) InternalTemperature(id string) (float64, bool) {
	reg, ok := b.cfg.Actuators[id]
	if !ok {
		return 0, false
	}
	value, err := b.readTemperature(reg)
	if err != nil {
		b.log.WithField("actuator", id).WithError(err).Warn("modbus read failed")
		return 0, false
	}
	return value, true
}

// CommandSetpoint writes a mapped valve's holding register.
func (b *Bridge) CommandSetpoint(id string, setpoint float64) error {
	reg, ok := b.cfg.Actuators[id]
	if !ok {
		return fmt.Errorf("modbus: unknown actuator %q", id)
	}
	raw := int16(setpoint * reg.scale())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler.SlaveId = reg.UnitID
	_, err := b.client.WriteSingleRegister(reg.Holding, uint16(raw))
	if err != nil {
		return fmt.Errorf("modbus write register %d: %w", reg.Holding, err)
	}
	return nil
}

func (b *Bridge) readTemperature(reg RegisterMap) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler.SlaveId = reg.UnitID
	data, err := b.client.ReadInputRegisters(reg.Input, 1)
	if err != nil {
		return 0, fmt.Errorf("modbus read register %d: %w", reg.Input, err)
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("modbus read register %d: short response", reg.Input)
	}
	raw := int16(binary.BigEndian.Uint16(data))
	return float64(raw) / reg.scale(), nil
}

func (m RegisterMap) scale() float64 {
	if m.Scale <= 0 {
		return 100
	}
	return m.Scale
}
