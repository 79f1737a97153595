package heating

import "time"

// TRVInfo is the per-actuator observability record published each pass.
type TRVInfo struct {
	InternalTemperature *float64 `json:"internal_temperature"`
	CurrentOffset       *float64 `json:"current_offset"`
	LearnedOffset       *float64 `json:"learned_offset"`
	Setpoint            float64  `json:"setpoint"`
	Commanded           bool     `json:"commanded"`
}

// RoomState is one room's fully resolved view for a pass.
type RoomState struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Temperature       *float64           `json:"temperature"`
	TemperatureSource TempSource         `json:"temperature_source"`
	LastSeen          *time.Time         `json:"temperature_last_seen"`
	Sensors           []SensorStatus     `json:"sensors_status"`
	Target            float64            `json:"target_temperature"`
	TargetSource      TargetSource       `json:"target_source"`
	Boost             *BoostEntry        `json:"boost"`
	NeedsHeating      bool               `json:"needs_heating"`
	TRVs              map[string]TRVInfo `json:"trvs"`
	Analytics         *Analytics         `json:"heating_analytics,omitempty"`
}

// ZoneState groups the rooms of a zone with its aggregated demand signal.
type ZoneState struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	DemandMode    DemandMode            `json:"heating_demand_mode"`
	HeatingDemand bool                  `json:"heating_demand"`
	Rooms         map[string]*RoomState `json:"rooms"`
	CurrentPeriod *SchedulePeriod       `json:"current_schedule"`
	NextPeriod    *SchedulePeriod       `json:"next_schedule"`
}

// State is the per-tick published snapshot keyed zone -> room. A published
// State is immutable; later passes publish a fresh instance.
type State struct {
	UpdatedAt time.Time             `json:"updated_at"`
	Away      bool                  `json:"away_mode"`
	Zones     map[string]*ZoneState `json:"zones"`
}

// Summary is a read-only projection over the published state.
type Summary struct {
	Rooms           int      `json:"rooms"`
	RoomsHeating    int      `json:"rooms_needing_heat"`
	ZonesDemanding  int      `json:"zones_demanding_heat"`
	MinTemperature  *float64 `json:"min_temperature"`
	MaxTemperature  *float64 `json:"max_temperature"`
	MeanTemperature *float64 `json:"mean_temperature"`
}

// Summarize computes the global aggregate view of a snapshot.
func (s *State) Summarize() Summary {
	var sum Summary
	var temps []float64
	for _, zone := range s.Zones {
		if zone.HeatingDemand {
			sum.ZonesDemanding++
		}
		for _, room := range zone.Rooms {
			sum.Rooms++
			if room.NeedsHeating {
				sum.RoomsHeating++
			}
			if room.Temperature != nil {
				temps = append(temps, *room.Temperature)
			}
		}
	}
	if len(temps) > 0 {
		lo, hi := temps[0], temps[0]
		for _, t := range temps[1:] {
			if t < lo {
				lo = t
			}
			if t > hi {
				hi = t
			}
		}
		sum.MinTemperature = fptr(lo)
		sum.MaxTemperature = fptr(hi)
		sum.MeanTemperature = fptr(mean(temps))
	}
	return sum
}
