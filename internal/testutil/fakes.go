package testutil

import (
	"sync"
	"time"

	"github.com/dmowbray/heatwarden/internal/ports"
)

// FakeSensorReader is a reusable fake implementing ports.SensorReader.
// Put ONLY what multiple test packages need here.
type FakeSensorReader struct {
	mu      sync.Mutex
	samples map[string]ports.SensorSample
}

func NewFakeSensorReader() *FakeSensorReader {
	return &FakeSensorReader{samples: make(map[string]ports.SensorSample)}
}

func (f *FakeSensorReader) Set(id, value string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples[id] = ports.SensorSample{Value: value, LastUpdated: at, Available: true}
}

func (f *FakeSensorReader) SetUnavailable(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.samples, id)
}

func (f *FakeSensorReader) ReadSensor(id string) ports.SensorSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samples[id]
}

// Command records one CommandSetpoint call.
type Command struct {
	ID       string
	Setpoint float64
}

// FakeCommander implements ports.ActuatorCommander, recording every command.
type FakeCommander struct {
	mu       sync.Mutex
	Commands []Command
	Internal map[string]float64
	FailIDs  map[string]error
}

func NewFakeCommander() *FakeCommander {
	return &FakeCommander{
		Internal: make(map[string]float64),
		FailIDs:  make(map[string]error),
	}
}

func (f *FakeCommander) CommandSetpoint(id string, setpoint float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailIDs[id]; ok {
		return err
	}
	f.Commands = append(f.Commands, Command{ID: id, Setpoint: setpoint})
	return nil
}

func (f *FakeCommander) InternalTemperature(id string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Internal[id]
	return v, ok
}

// LastCommand returns the most recent setpoint commanded to an actuator.
func (f *FakeCommander) LastCommand(id string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Commands) - 1; i >= 0; i-- {
		if f.Commands[i].ID == id {
			return f.Commands[i].Setpoint, true
		}
	}
	return 0, false
}

// MemStore implements ports.StateStore in memory.
type MemStore struct {
	mu      sync.Mutex
	Blob    []byte
	LoadErr error
	SaveErr error
	Saves   int
}

func (m *MemStore) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.Blob, nil
}

func (m *MemStore) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Blob = append([]byte(nil), data...)
	m.Saves++
	return nil
}
