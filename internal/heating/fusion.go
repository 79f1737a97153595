package heating

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmowbray/heatwarden/internal/ports"
)

type lastKnown struct {
	value float64
	at    time.Time
}

// fuser reduces the raw readings of a room's sensors into one temperature.
//
// Fallback chain: mean of active local sensors, then the most recent
// previously observed value still inside the staleness window, then the mean
// of every currently readable sensor across the zone. Rooms with no sensors
// go straight to the zone average.
type fuser struct {
	reader    ports.SensorReader
	timeout   time.Duration
	validator *validator
	log       *logrus.Logger

	lastValues map[string]lastKnown // value-sensor id -> last active reading
}

func newFuser(reader ports.SensorReader, timeout time.Duration, v *validator, log *logrus.Logger) *fuser {
	return &fuser{
		reader:     reader,
		timeout:    timeout,
		validator:  v,
		log:        log,
		lastValues: make(map[string]lastKnown),
	}
}

// roomTemperature fuses the room's sensors at the given instant. The only
// side effect is refreshing the last-known cache for sensors seen active.
func (f *fuser) roomTemperature(zone *Zone, room *Room, now time.Time) Reading {
	if len(room.Sensors) == 0 {
		return Reading{Value: f.zoneAverage(zone), Source: TempSourceZoneAverage}
	}

	var (
		active     []float64
		statuses   = make([]SensorStatus, 0, len(room.Sensors))
		mostRecent *time.Time
	)

	for _, ref := range room.Sensors {
		status := f.readSensor(ref, now)
		if status.LastSeen != nil && (mostRecent == nil || status.LastSeen.After(*mostRecent)) {
			t := *status.LastSeen
			mostRecent = &t
		}
		if status.State == SensorActive {
			active = append(active, *status.Value)
			f.lastValues[ref.Temperature] = lastKnown{value: *status.Value, at: *status.LastSeen}
		}
		statuses = append(statuses, status)
	}

	if len(active) > 0 {
		return Reading{
			Value:    fptr(mean(active)),
			Source:   TempSourceLocal,
			Sensors:  statuses,
			LastSeen: mostRecent,
		}
	}

	// No live sensors; try the most recent previously observed value.
	for _, ref := range room.Sensors {
		last, ok := f.lastValues[ref.Temperature]
		if ok && now.Sub(last.at) < f.timeout {
			at := last.at
			return Reading{
				Value:    fptr(last.value),
				Source:   TempSourceLocal,
				Sensors:  statuses,
				LastSeen: &at,
			}
		}
	}

	avg := f.zoneAverage(zone)
	source := TempSourceZoneAverage
	if avg == nil {
		source = TempSourceUnavailable
	}
	return Reading{Value: avg, Source: source, Sensors: statuses, LastSeen: mostRecent}
}

// readSensor reads one sensor reference and classifies the result.
func (f *fuser) readSensor(ref SensorRef, now time.Time) SensorStatus {
	status := SensorStatus{SensorID: ref.Temperature, Plausible: true}

	sample := f.reader.ReadSensor(ref.Temperature)
	if !sample.Available {
		return status
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(sample.Value), 64)
	if err != nil {
		f.log.WithField("sensor", ref.Temperature).Warn("invalid temperature payload")
		status.State = SensorInvalid
		return status
	}

	lastSeen := sample.LastUpdated
	status.LastSeenSource = LastSeenStateUpdated
	if ref.LastSeen != "" {
		if dedicated, ok := f.dedicatedLastSeen(ref.LastSeen); ok {
			lastSeen = dedicated
			status.LastSeenSource = LastSeenDedicated
		}
	}
	status.Value = &value
	status.LastSeen = &lastSeen

	if !f.validator.inRange(value) {
		status.State = SensorInvalid
		return status
	}

	if prev, ok := f.lastValues[ref.Temperature]; ok {
		if !f.validator.plausibleChange(value, prev.value, lastSeen.Sub(prev.at)) {
			status.Plausible = false
		}
	}

	if now.Sub(lastSeen) < f.timeout {
		status.State = SensorActive
	} else {
		status.State = SensorTimeout
	}
	return status
}

// dedicatedLastSeen reads an independent last-seen sensor carrying an
// RFC 3339 timestamp. A missing or unparseable value falls back to the value
// sensor's own update time.
func (f *fuser) dedicatedLastSeen(id string) (time.Time, bool) {
	sample := f.reader.ReadSensor(id)
	if !sample.Available {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(sample.Value))
	if err != nil {
		f.log.WithField("sensor", id).WithError(err).Warn("failed to parse last-seen timestamp")
		return time.Time{}, false
	}
	return t, true
}

// zoneAverage is the mean of every currently readable sensor value in the
// zone, regardless of staleness.
func (f *fuser) zoneAverage(zone *Zone) *float64 {
	var temps []float64
	for i := range zone.Rooms {
		for _, ref := range zone.Rooms[i].Sensors {
			sample := f.reader.ReadSensor(ref.Temperature)
			if !sample.Available {
				continue
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(sample.Value), 64); err == nil {
				temps = append(temps, v)
			}
		}
	}
	if len(temps) == 0 {
		return nil
	}
	return fptr(mean(temps))
}
