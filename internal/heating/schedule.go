package heating

import (
	"time"

	"github.com/sirupsen/logrus"
)

// scheduleResolver maps wall-clock time onto a zone's weekly schedule.
type scheduleResolver struct {
	minimumTemp float64
	log         *logrus.Logger
}

func newScheduleResolver(minimumTemp float64, log *logrus.Logger) *scheduleResolver {
	return &scheduleResolver{minimumTemp: minimumTemp, log: log}
}

func daySchedule(zone *Zone, now time.Time) []SchedulePeriod {
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return zone.Schedule.Weekend
	default:
		return zone.Schedule.Weekday
	}
}

// temperature returns the first matching period's temperature, or the
// configured minimum when no period covers the current time of day.
func (r *scheduleResolver) temperature(zone *Zone, now time.Time) float64 {
	current := now.Format("15:04")
	for _, p := range daySchedule(zone, now) {
		if timeInRange(p.Start, p.End, current) {
			return p.Temperature
		}
	}
	r.log.WithFields(logrus.Fields{"zone": zone.ID, "time": current}).
		Debug("no active schedule period, using minimum temperature")
	return r.minimumTemp
}

// current returns the period in effect right now, if any.
func (r *scheduleResolver) current(zone *Zone, now time.Time) *SchedulePeriod {
	currentStr := now.Format("15:04")
	for _, p := range daySchedule(zone, now) {
		if timeInRange(p.Start, p.End, currentStr) {
			period := p
			return &period
		}
	}
	return nil
}

// next returns the first period of today's list starting after now, if any.
func (r *scheduleResolver) next(zone *Zone, now time.Time) *SchedulePeriod {
	currentStr := now.Format("15:04")
	for _, p := range daySchedule(zone, now) {
		if p.Start > currentStr {
			period := p
			return &period
		}
	}
	return nil
}

// timeInRange checks a half-open [start, end) range of "HH:MM" strings.
func timeInRange(start, end, current string) bool {
	return start <= current && current < end
}
