package heating

import (
	"fmt"
	"time"
)

// Fixed policy constants. The configurable knobs live in Params.
const (
	minimalDeadband        = 0.1 // °C, used while approaching a target
	targetReachedThreshold = 0.1 // °C, target considered reached / changed
	maintainBoost          = 0.5 // °C added on top of the learned offset at target
	setpointFloor          = 5.0 // °C, never command below frost level
	defaultTRVOffset       = 2.0 // °C, used before any offset has been learned

	minValidTemp = -20.0 // °C
	maxValidTemp = 50.0  // °C

	minTempChange    = 0.05             // °C, analytics recording threshold
	baselineInterval = 10 * time.Minute // analytics idle recording cadence
	minUsableRate    = 0.05             // °C/h, below this no ETA is produced
)

type BoostParams struct {
	Duration time.Duration // default boost duration
	Increase float64       // °C added to the current room temperature
}

type TRVParams struct {
	Enabled            bool
	MaxBoost           float64 // cap on the adaptive boost (°C)
	MaxSetpoint        float64 // absolute setpoint ceiling (°C)
	OvershootThreshold float64 // °C above target that triggers cooldown
	CooldownOffset     float64 // °C below target commanded during cooldown
	EMAAlpha           float64 // offset EMA smoothing factor
}

type AnalyticsParams struct {
	Enabled            bool
	HistorySize        int
	MinSamples         int
	Smoothing          float64 // rate EMA smoothing factor
	MaxChangePerMinute float64 // plausibility bound (°C/min)
}

// Params is the full normalized configuration consumed by the controller.
type Params struct {
	UpdateInterval      time.Duration
	SensorTimeout       time.Duration
	MinimumTemp         float64
	FrostProtectionTemp float64
	HeatingDeadband     float64
	DefaultDemandMode   DemandMode

	Boost     BoostParams
	TRV       TRVParams
	Analytics AnalyticsParams

	Zones []Zone
}

func (p *Params) Validate() error {
	if p.UpdateInterval <= 0 {
		return fmt.Errorf("%w: update interval must be positive", ErrInvalidParams)
	}
	if p.SensorTimeout <= 0 {
		return fmt.Errorf("%w: sensor timeout must be positive", ErrInvalidParams)
	}
	if p.HeatingDeadband < minimalDeadband {
		return fmt.Errorf("%w: heating deadband must be at least %.1f", ErrInvalidParams, minimalDeadband)
	}
	if !p.DefaultDemandMode.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidDemandMode, p.DefaultDemandMode)
	}
	if p.Boost.Duration <= 0 {
		return fmt.Errorf("%w: boost duration must be positive", ErrInvalidParams)
	}
	if p.TRV.EMAAlpha <= 0 || p.TRV.EMAAlpha > 1 {
		return fmt.Errorf("%w: trv ema alpha must be in (0, 1]", ErrInvalidParams)
	}
	if p.TRV.MaxSetpoint < p.MinimumTemp {
		return fmt.Errorf("%w: max trv setpoint below minimum temperature", ErrInvalidParams)
	}
	if p.Analytics.Enabled {
		if p.Analytics.HistorySize <= 1 {
			return fmt.Errorf("%w: analytics history size must be greater than 1", ErrInvalidParams)
		}
		if p.Analytics.MinSamples < 2 {
			return fmt.Errorf("%w: analytics min samples must be at least 2", ErrInvalidParams)
		}
		if p.Analytics.Smoothing <= 0 || p.Analytics.Smoothing > 1 {
			return fmt.Errorf("%w: derivative smoothing must be in (0, 1]", ErrInvalidParams)
		}
	}
	for i := range p.Zones {
		z := &p.Zones[i]
		if z.ID == "" {
			return fmt.Errorf("%w: zone with empty id", ErrInvalidParams)
		}
		if z.DemandMode != DemandUnknown && !z.DemandMode.Valid() {
			return fmt.Errorf("%w: zone %s", ErrInvalidDemandMode, z.ID)
		}
		for j := range z.Rooms {
			if z.Rooms[j].ID == "" {
				return fmt.Errorf("%w: zone %s has a room with empty id", ErrInvalidParams, z.ID)
			}
		}
	}
	return nil
}

// demandMode resolves the effective mode for a zone.
func (p *Params) demandMode(z *Zone) DemandMode {
	if z.DemandMode.Valid() {
		return z.DemandMode
	}
	return p.DefaultDemandMode
}
