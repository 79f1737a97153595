package heating

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// BoostEntry is a timed target-temperature override for a single room.
type BoostEntry struct {
	Temperature float64       `json:"temperature"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"-"`
}

// boostStore holds per-room boost entries. Expiry is enforced lazily: the
// first lookup that observes a passed end time deletes the entry, so within
// one tick every consumer sees a consistent view.
type boostStore struct {
	defaultDuration time.Duration
	increase        float64
	log             *logrus.Logger

	entries map[string]map[string]BoostEntry // zone id -> room id -> entry
}

func newBoostStore(defaultDuration time.Duration, increase float64, log *logrus.Logger) *boostStore {
	return &boostStore{
		defaultDuration: defaultDuration,
		increase:        increase,
		log:             log,
		entries:         make(map[string]map[string]BoostEntry),
	}
}

// get returns the active entry for a room, deleting it on first observation
// of its expiry.
func (b *boostStore) get(zoneID, roomID string, now time.Time) (BoostEntry, bool) {
	rooms, ok := b.entries[zoneID]
	if !ok {
		return BoostEntry{}, false
	}
	entry, ok := rooms[roomID]
	if !ok {
		return BoostEntry{}, false
	}
	if now.After(entry.EndTime) {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(b.entries, zoneID)
		}
		b.log.WithFields(logrus.Fields{"zone": zoneID, "room": roomID}).Debug("boost expired")
		return BoostEntry{}, false
	}
	return entry, true
}

// set stores a boost for a room. A nil temperature is computed as the current
// fused room temperature plus the configured increase, which requires the
// room to have at least one sensor.
func (b *boostStore) set(zone *Zone, room *Room, temperature *float64, duration *time.Duration, now time.Time, roomTemp func() *float64) error {
	if len(room.Sensors) == 0 {
		return fmt.Errorf("cannot boost %s/%s: %w", zone.ID, room.ID, ErrNoSensors)
	}

	d := b.defaultDuration
	if duration != nil {
		d = *duration
	}

	var temp float64
	if temperature != nil {
		temp = *temperature
	} else {
		current := roomTemp()
		if current == nil {
			return fmt.Errorf("cannot compute boost temperature for %s/%s: %w", zone.ID, room.ID, ErrNoRoomTemperature)
		}
		temp = *current + b.increase
	}

	if b.entries[zone.ID] == nil {
		b.entries[zone.ID] = make(map[string]BoostEntry)
	}
	b.entries[zone.ID][room.ID] = BoostEntry{
		Temperature: temp,
		EndTime:     now.Add(d),
		Duration:    d,
	}

	b.log.WithFields(logrus.Fields{
		"zone":        zone.ID,
		"room":        room.ID,
		"temperature": temp,
		"duration":    d,
	}).Info("boost set")
	return nil
}

// clear removes a room's boost unconditionally and reports whether one existed.
func (b *boostStore) clear(zoneID, roomID string) bool {
	rooms, ok := b.entries[zoneID]
	if !ok {
		return false
	}
	if _, ok := rooms[roomID]; !ok {
		return false
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(b.entries, zoneID)
	}
	b.log.WithFields(logrus.Fields{"zone": zoneID, "room": roomID}).Info("boost cleared")
	return true
}

// restore re-admits stored entries, skipping any whose expiry has passed.
func (b *boostStore) restore(stored map[string]map[string]BoostEntry, now time.Time) {
	for zoneID, rooms := range stored {
		for roomID, entry := range rooms {
			if !entry.EndTime.After(now) {
				continue
			}
			if b.entries[zoneID] == nil {
				b.entries[zoneID] = make(map[string]BoostEntry)
			}
			b.entries[zoneID][roomID] = entry
		}
	}
}
