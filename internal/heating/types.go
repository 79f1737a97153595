package heating

import (
	"encoding/json"
	"fmt"
	"time"
)

// DemandMode selects how per-room decisions roll up into a zone demand signal.
type DemandMode int

const (
	DemandUnknown DemandMode = iota
	DemandAnyRoom
	DemandZoneAverage
)

func (m DemandMode) Valid() bool {
	return m == DemandAnyRoom || m == DemandZoneAverage
}

func (m DemandMode) String() string {
	switch m {
	case DemandAnyRoom:
		return "any_room"
	case DemandZoneAverage:
		return "zone_average"
	default:
		return "unknown"
	}
}

func ParseDemandMode(s string) (DemandMode, error) {
	switch s {
	case "any_room":
		return DemandAnyRoom, nil
	case "zone_average":
		return DemandZoneAverage, nil
	default:
		return DemandUnknown, fmt.Errorf("invalid heating demand mode: %q", s)
	}
}

// SensorState classifies a single sensor reading.
type SensorState int

const (
	SensorUnavailable SensorState = iota
	SensorActive
	SensorTimeout
	SensorInvalid
)

func (s SensorState) String() string {
	switch s {
	case SensorActive:
		return "active"
	case SensorTimeout:
		return "timeout"
	case SensorInvalid:
		return "invalid"
	default:
		return "unavailable"
	}
}

// LastSeenSource records where a sensor's effective last-seen timestamp came from.
type LastSeenSource int

const (
	LastSeenNone LastSeenSource = iota
	LastSeenDedicated
	LastSeenStateUpdated
)

func (s LastSeenSource) String() string {
	switch s {
	case LastSeenDedicated:
		return "dedicated"
	case LastSeenStateUpdated:
		return "state-updated"
	default:
		return "none"
	}
}

// TempSource records which fallback path produced a fused room temperature.
type TempSource int

const (
	TempSourceUnavailable TempSource = iota
	TempSourceLocal
	TempSourceZoneAverage
)

func (s TempSource) String() string {
	switch s {
	case TempSourceLocal:
		return "local_sensors"
	case TempSourceZoneAverage:
		return "zone_average"
	default:
		return "unavailable"
	}
}

// TargetSource records which override level resolved a room's target.
type TargetSource int

const (
	TargetSchedule TargetSource = iota
	TargetAway
	TargetBoost
	TargetManual
)

func (s TargetSource) String() string {
	switch s {
	case TargetAway:
		return "away"
	case TargetBoost:
		return "boost"
	case TargetManual:
		return "manual"
	default:
		return "schedule"
	}
}

// SensorRef points at a value sensor and, optionally, a dedicated sensor
// carrying the value sensor's last-seen timestamp as an RFC 3339 string.
type SensorRef struct {
	Temperature string
	LastSeen    string
}

// SchedulePeriod is a half-open [Start, End) time-of-day range at "HH:MM"
// granularity with a target temperature.
type SchedulePeriod struct {
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Temperature float64 `json:"temperature"`
}

// WeeklySchedule holds the ordered weekday and weekend period lists.
// Periods are evaluated in configured order; first match wins.
type WeeklySchedule struct {
	Weekday []SchedulePeriod
	Weekend []SchedulePeriod
}

type Room struct {
	ID      string
	Name    string
	Sensors []SensorRef
	TRVs    []string
}

type Zone struct {
	ID         string
	Name       string
	Schedule   WeeklySchedule
	Rooms      []Room
	DemandMode DemandMode // DemandUnknown falls back to the configured default
}

// SensorStatus is the per-sensor observability record carried on every fused reading.
type SensorStatus struct {
	SensorID       string         `json:"sensor_id"`
	Value          *float64       `json:"value"`
	LastSeen       *time.Time     `json:"last_seen"`
	LastSeenSource LastSeenSource `json:"last_seen_source"`
	State          SensorState    `json:"status"`
	Plausible      bool           `json:"plausible"`
}

// Reading is the fused room temperature plus how it was obtained.
type Reading struct {
	Value    *float64
	Source   TempSource
	Sensors  []SensorStatus
	LastSeen *time.Time
}

// Enums marshal as their wire strings in the published state.

func (m DemandMode) MarshalJSON() ([]byte, error)     { return json.Marshal(m.String()) }
func (s SensorState) MarshalJSON() ([]byte, error)    { return json.Marshal(s.String()) }
func (s LastSeenSource) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }
func (s TempSource) MarshalJSON() ([]byte, error)     { return json.Marshal(s.String()) }
func (s TargetSource) MarshalJSON() ([]byte, error)   { return json.Marshal(s.String()) }

func fptr(v float64) *float64 { return &v }

func mean(vals []float64) float64 {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
