package heating

import (
	"time"

	"github.com/sirupsen/logrus"
)

// validator checks raw readings for physical plausibility. Range violations
// disqualify a reading outright; rate-of-change violations are advisory only
// and surface as Plausible=false on the sensor status.
type validator struct {
	maxChangePerMin float64
	log             *logrus.Logger
}

func newValidator(maxChangePerMin float64, log *logrus.Logger) *validator {
	return &validator{maxChangePerMin: maxChangePerMin, log: log}
}

func (v *validator) inRange(temp float64) bool {
	if temp < minValidTemp || temp > maxValidTemp {
		v.log.WithField("temperature", temp).Warn("temperature outside valid range")
		return false
	}
	return true
}

// plausibleChange reports whether moving from previous to current over
// elapsed time stays under the configured °C/minute bound.
func (v *validator) plausibleChange(current, previous float64, elapsed time.Duration) bool {
	if v.maxChangePerMin <= 0 {
		return true
	}
	if elapsed <= 0 {
		v.log.WithField("elapsed", elapsed).Warn("invalid time delta for plausibility check")
		return false
	}
	maxChange := v.maxChangePerMin * elapsed.Minutes()
	actual := current - previous
	if actual < 0 {
		actual = -actual
	}
	if actual > maxChange {
		v.log.WithFields(logrus.Fields{
			"change":     actual,
			"elapsed":    elapsed,
			"max_change": maxChange,
		}).Warn("implausible temperature change")
		return false
	}
	return true
}
