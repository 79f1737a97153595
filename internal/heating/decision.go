package heating

import (
	"github.com/sirupsen/logrus"
)

// roomHeatingState tracks the hysteresis state machine for one room.
// When TargetReached is false the room is approaching its target.
type roomHeatingState struct {
	PreviousTarget float64 `json:"previous_target"`
	TargetReached  bool    `json:"target_reached"`
}

// decisionEngine decides per room whether heat is required.
//
// While approaching a target the minimal deadband keeps the room responsive;
// once the target has been reached the configured deadband resists
// short-cycling. A target change beyond the reached threshold resets the
// room to approaching.
type decisionEngine struct {
	deadband float64
	log      *logrus.Logger

	states map[string]map[string]*roomHeatingState // zone id -> room id
}

func newDecisionEngine(deadband float64, log *logrus.Logger) *decisionEngine {
	return &decisionEngine{
		deadband: deadband,
		log:      log,
		states:   make(map[string]map[string]*roomHeatingState),
	}
}

func (e *decisionEngine) needsHeat(zoneID, roomID string, roomTemp, target *float64) bool {
	if roomTemp == nil || target == nil {
		return false
	}

	if e.states[zoneID] == nil {
		e.states[zoneID] = make(map[string]*roomHeatingState)
	}
	state, ok := e.states[zoneID][roomID]
	if !ok {
		state = &roomHeatingState{PreviousTarget: *target}
		e.states[zoneID][roomID] = state
	}

	delta := *target - state.PreviousTarget
	if delta < 0 {
		delta = -delta
	}
	if delta > targetReachedThreshold {
		state.PreviousTarget = *target
		state.TargetReached = false
		e.log.WithFields(logrus.Fields{"zone": zoneID, "room": roomID, "target": *target}).
			Debug("target changed, resetting to approaching")
	}

	if !state.TargetReached && *roomTemp >= *target-targetReachedThreshold {
		state.TargetReached = true
		e.log.WithFields(logrus.Fields{"zone": zoneID, "room": roomID, "target": *target}).
			Debug("target reached")
	}

	deadband := minimalDeadband
	if state.TargetReached {
		deadband = e.deadband
	}
	return *roomTemp < *target-deadband
}

func (e *decisionEngine) restore(stored map[string]map[string]*roomHeatingState) {
	if stored != nil {
		e.states = stored
	}
}
