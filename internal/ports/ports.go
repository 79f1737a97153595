package ports

import "time"

// SensorSample is one raw reading from a sensor backend. Value is the raw
// payload as reported by the device; callers decide how to parse it.
type SensorSample struct {
	Value       string
	LastUpdated time.Time
	Available   bool
}

// SensorReader is the read-side device port. Implementations must not block;
// they serve whatever state they last observed.
type SensorReader interface {
	ReadSensor(id string) SensorSample
}

// ActuatorCommander is the write-side device port for thermostatic valves.
// CommandSetpoint is fire-and-forget: a failed command is reported but must
// not be retried by the caller within the same pass.
type ActuatorCommander interface {
	CommandSetpoint(id string, setpoint float64) error
	InternalTemperature(id string) (float64, bool)
}

// StateStore persists an opaque blob across process restarts.
type StateStore interface {
	Load() ([]byte, error)
	Save(data []byte) error
}
