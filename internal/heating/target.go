package heating

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// ManualOverride pins a zone to a temperature until the schedule moves on.
// The scheduled temperature captured at set time is the invalidation key: the
// first tick where the resolved schedule differs, the override is dropped.
type ManualOverride struct {
	Temperature   float64 `json:"temperature"`
	ScheduledTemp float64 `json:"last_scheduled_temp"`
}

// targetResolver combines away mode, boost, manual zone overrides and the
// weekly schedule into one target per room, highest priority first.
type targetResolver struct {
	schedule        *scheduleResolver
	frostProtection float64
	minimumTemp     float64
	log             *logrus.Logger

	away   bool
	manual map[string]ManualOverride // zone id -> override
}

func newTargetResolver(schedule *scheduleResolver, frostProtection, minimumTemp float64, log *logrus.Logger) *targetResolver {
	return &targetResolver{
		schedule:        schedule,
		frostProtection: frostProtection,
		minimumTemp:     minimumTemp,
		log:             log,
		manual:          make(map[string]ManualOverride),
	}
}

// resolve returns the effective target for a room and which level produced
// it. boost is the room's active boost entry, if any.
func (r *targetResolver) resolve(zone *Zone, boost *BoostEntry, now time.Time) (float64, TargetSource) {
	var (
		target float64
		source TargetSource
	)

	switch {
	case r.away:
		target, source = r.frostProtection, TargetAway
	case boost != nil:
		target, source = boost.Temperature, TargetBoost
	default:
		scheduled := r.schedule.temperature(zone, now)
		if override, ok := r.manual[zone.ID]; ok {
			if scheduled != override.ScheduledTemp {
				delete(r.manual, zone.ID)
				r.log.WithField("zone", zone.ID).Debug("schedule changed, manual override cleared")
				target, source = scheduled, TargetSchedule
			} else {
				target, source = override.Temperature, TargetManual
			}
		} else {
			target, source = scheduled, TargetSchedule
		}
	}

	// Every branch above yields a value, so this only fires on corrupt
	// configuration (NaN temperatures). Heating fails toward a safe default.
	if math.IsNaN(target) {
		r.log.WithFields(logrus.Fields{"zone": zone.ID, "source": source}).
			Error("unresolved target temperature, falling back to minimum")
		return r.minimumTemp, TargetSchedule
	}
	return target, source
}

func (r *targetResolver) setAway(enabled bool) {
	r.away = enabled
}

func (r *targetResolver) awayMode() bool {
	return r.away
}

// setManual captures the currently scheduled temperature so the override can
// be invalidated when the schedule moves to a different value.
func (r *targetResolver) setManual(zone *Zone, temperature float64, now time.Time) {
	r.manual[zone.ID] = ManualOverride{
		Temperature:   temperature,
		ScheduledTemp: r.schedule.temperature(zone, now),
	}
	r.log.WithFields(logrus.Fields{"zone": zone.ID, "temperature": temperature}).
		Info("manual zone temperature set")
}
