package heating

import (
	"github.com/sirupsen/logrus"

	"github.com/dmowbray/heatwarden/internal/ports"
)

// trvController computes compensated setpoints for thermostatic valves whose
// internal sensors read warmer than the room (radiator proximity bias). The
// bias is learned per valve as an EMA of (internal - room) and added to the
// commanded setpoint so the valve's own regulation lands on the real target.
type trvController struct {
	commander ports.ActuatorCommander
	params    TRVParams
	log       *logrus.Logger

	offsets map[string]map[string]map[string]float64 // zone -> room -> trv -> EMA
}

func newTRVController(commander ports.ActuatorCommander, params TRVParams, log *logrus.Logger) *trvController {
	return &trvController{
		commander: commander,
		params:    params,
		log:       log,
		offsets:   make(map[string]map[string]map[string]float64),
	}
}

// apply computes and commands a setpoint for every valve in the room. A
// failure commanding one valve is logged and does not stop the others.
func (c *trvController) apply(zoneID, roomID string, room *Room, target float64, roomTemp *float64, needsHeat bool) map[string]TRVInfo {
	infos := make(map[string]TRVInfo, len(room.TRVs))
	for _, trvID := range room.TRVs {
		var internal *float64
		if v, ok := c.commander.InternalTemperature(trvID); ok {
			internal = fptr(v)
		}

		setpoint := c.setpoint(zoneID, roomID, trvID, roomTemp, target, internal, needsHeat)

		info := TRVInfo{
			InternalTemperature: internal,
			Setpoint:            setpoint,
			Commanded:           true,
		}
		if internal != nil && roomTemp != nil {
			info.CurrentOffset = fptr(*internal - *roomTemp)
		}
		if ema, ok := c.learnedOffset(zoneID, roomID, trvID); ok {
			info.LearnedOffset = fptr(ema)
		}

		if err := c.commander.CommandSetpoint(trvID, setpoint); err != nil {
			info.Commanded = false
			c.log.WithFields(logrus.Fields{"trv": trvID, "setpoint": setpoint}).
				WithError(err).Warn("failed to command trv setpoint")
		}
		infos[trvID] = info
	}
	return infos
}

// setpoint implements the priority chain: pass-through, overshoot cooldown,
// maintain, adaptive boost tiers.
func (c *trvController) setpoint(zoneID, roomID, trvID string, roomTemp *float64, target float64, internal *float64, needsHeat bool) float64 {
	if !c.params.Enabled || roomTemp == nil || internal == nil {
		return target
	}

	offset := *internal - *roomTemp
	c.updateOffset(zoneID, roomID, trvID, offset)
	ema := c.offsetOrDefault(zoneID, roomID, trvID)

	// Overshooting: command low to let the room cool faster.
	if *roomTemp > target+c.params.OvershootThreshold {
		setpoint := target - c.params.CooldownOffset
		if setpoint < setpointFloor {
			setpoint = setpointFloor
		}
		return setpoint
	}

	// At target: hold it with a small margin above the learned bias.
	if !needsHeat {
		return c.cap(target + ema + maintainBoost)
	}

	deficit := target - *roomTemp
	var boost float64
	switch {
	case deficit > 3.0:
		boost = c.params.MaxBoost
	case deficit > 1.5:
		boost = deficit * 1.5
		if boost > c.params.MaxBoost {
			boost = c.params.MaxBoost
		}
	case deficit > 0.5:
		boost = 1.5
	default:
		boost = 0.5
	}
	return c.cap(target + ema + boost)
}

func (c *trvController) cap(setpoint float64) float64 {
	if setpoint > c.params.MaxSetpoint {
		return c.params.MaxSetpoint
	}
	return setpoint
}

// updateOffset blends a fresh offset sample into the valve's EMA,
// initializing from the first observation.
func (c *trvController) updateOffset(zoneID, roomID, trvID string, offset float64) {
	if c.offsets[zoneID] == nil {
		c.offsets[zoneID] = make(map[string]map[string]float64)
	}
	if c.offsets[zoneID][roomID] == nil {
		c.offsets[zoneID][roomID] = make(map[string]float64)
	}
	prev, ok := c.offsets[zoneID][roomID][trvID]
	if !ok {
		c.offsets[zoneID][roomID][trvID] = offset
		return
	}
	alpha := c.params.EMAAlpha
	c.offsets[zoneID][roomID][trvID] = alpha*offset + (1-alpha)*prev
}

func (c *trvController) learnedOffset(zoneID, roomID, trvID string) (float64, bool) {
	ema, ok := c.offsets[zoneID][roomID][trvID]
	return ema, ok
}

func (c *trvController) offsetOrDefault(zoneID, roomID, trvID string) float64 {
	if ema, ok := c.learnedOffset(zoneID, roomID, trvID); ok {
		return ema
	}
	return defaultTRVOffset
}

func (c *trvController) restore(stored map[string]map[string]map[string]float64) {
	if stored != nil {
		c.offsets = stored
	}
}
