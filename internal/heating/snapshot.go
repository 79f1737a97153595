package heating

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire types for the persisted blob. Timestamps travel as RFC 3339 strings
// and durations as whole minutes, so the blob stays readable and stable
// across refactors of the in-memory types.

type persistedBoost struct {
	Temperature     float64 `json:"temperature"`
	EndTime         string  `json:"end_time"`
	DurationMinutes int     `json:"duration"`
}

type persistedHistoryEntry struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	NeedsHeat   bool    `json:"needs_heating"`
	ZoneHeating bool    `json:"zone_heating_active"`
}

type persistedRoomAnalytics struct {
	History       []persistedHistoryEntry `json:"history"`
	SmoothedRates smoothedRates           `json:"smoothed_rates"`
}

// TRV offsets are decoded through RawMessage: current stores hold a scalar
// EMA per valve, legacy stores hold the raw sample list it replaced.
type persistedState struct {
	AwayMode         bool                                            `json:"away_mode"`
	BoostState       map[string]map[string]persistedBoost            `json:"boost_state"`
	ManualZoneTemp   map[string]ManualOverride                       `json:"manual_zone_temp"`
	RoomHeatingState map[string]map[string]*roomHeatingState         `json:"room_heating_state"`
	TRVOffsets       map[string]map[string]map[string]json.RawMessage `json:"trv_offset_history"`
	AnalyticsHistory map[string]map[string]persistedRoomAnalytics    `json:"analytics_history,omitempty"`
}

// storedHistoryLimit bounds how many history entries per room are persisted.
const storedHistoryLimit = 10

// marshalState serializes everything that must survive a restart.
func (c *Controller) marshalState() ([]byte, error) {
	state := persistedState{
		AwayMode:         c.targets.awayMode(),
		BoostState:       make(map[string]map[string]persistedBoost),
		ManualZoneTemp:   c.targets.manual,
		RoomHeatingState: c.decisions.states,
		TRVOffsets:       make(map[string]map[string]map[string]json.RawMessage),
	}

	for zoneID, rooms := range c.boosts.entries {
		state.BoostState[zoneID] = make(map[string]persistedBoost, len(rooms))
		for roomID, entry := range rooms {
			state.BoostState[zoneID][roomID] = persistedBoost{
				Temperature:     entry.Temperature,
				EndTime:         entry.EndTime.Format(time.RFC3339Nano),
				DurationMinutes: int(entry.Duration / time.Minute),
			}
		}
	}

	for zoneID, rooms := range c.trvs.offsets {
		state.TRVOffsets[zoneID] = make(map[string]map[string]json.RawMessage, len(rooms))
		for roomID, trvs := range rooms {
			state.TRVOffsets[zoneID][roomID] = make(map[string]json.RawMessage, len(trvs))
			for trvID, ema := range trvs {
				raw, err := json.Marshal(ema)
				if err != nil {
					return nil, err
				}
				state.TRVOffsets[zoneID][roomID][trvID] = raw
			}
		}
	}

	if c.analytics != nil {
		state.AnalyticsHistory = make(map[string]map[string]persistedRoomAnalytics)
		for zoneID, rooms := range c.analytics.history {
			state.AnalyticsHistory[zoneID] = make(map[string]persistedRoomAnalytics, len(rooms))
			for roomID, entries := range rooms {
				if len(entries) > storedHistoryLimit {
					entries = entries[len(entries)-storedHistoryLimit:]
				}
				stored := persistedRoomAnalytics{History: make([]persistedHistoryEntry, 0, len(entries))}
				for _, e := range entries {
					stored.History = append(stored.History, persistedHistoryEntry{
						Timestamp:   e.Timestamp.Format(time.RFC3339Nano),
						Temperature: e.Temperature,
						NeedsHeat:   e.NeedsHeat,
						ZoneHeating: e.ZoneHeating,
					})
				}
				if rates := c.analytics.rates[zoneID][roomID]; rates != nil {
					stored.SmoothedRates = *rates
				}
				state.AnalyticsHistory[zoneID][roomID] = stored
			}
		}
	}

	return json.Marshal(state)
}

// restoreState rebuilds component state from a persisted blob. An empty or
// unparseable blob is treated as no prior state.
func (c *Controller) restoreState(data []byte, now time.Time) {
	if len(data) == 0 {
		return
	}
	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		c.log.WithError(err).Warn("discarding unreadable persisted state")
		return
	}

	c.targets.setAway(state.AwayMode)
	if state.ManualZoneTemp != nil {
		c.targets.manual = state.ManualZoneTemp
	}
	c.decisions.restore(state.RoomHeatingState)

	boosts := make(map[string]map[string]BoostEntry)
	for zoneID, rooms := range state.BoostState {
		boosts[zoneID] = make(map[string]BoostEntry, len(rooms))
		for roomID, stored := range rooms {
			endTime, err := time.Parse(time.RFC3339Nano, stored.EndTime)
			if err != nil {
				c.log.WithFields(map[string]interface{}{"zone": zoneID, "room": roomID}).
					WithError(err).Warn("skipping boost with unreadable end time")
				continue
			}
			boosts[zoneID][roomID] = BoostEntry{
				Temperature: stored.Temperature,
				EndTime:     endTime,
				Duration:    time.Duration(stored.DurationMinutes) * time.Minute,
			}
		}
	}
	c.boosts.restore(boosts, now)

	c.trvs.restore(migrateOffsets(state.TRVOffsets))

	if c.analytics != nil && state.AnalyticsHistory != nil {
		c.restoreAnalytics(state.AnalyticsHistory)
	}
}

// migrateOffsets upgrades legacy per-valve raw sample lists to scalar EMA
// values by averaging. Detection is format-driven: scalars decode as-is, so
// re-running the upgrade on an upgraded store is a no-op.
func migrateOffsets(stored map[string]map[string]map[string]json.RawMessage) map[string]map[string]map[string]float64 {
	if stored == nil {
		return nil
	}
	out := make(map[string]map[string]map[string]float64, len(stored))
	for zoneID, rooms := range stored {
		out[zoneID] = make(map[string]map[string]float64, len(rooms))
		for roomID, trvs := range rooms {
			out[zoneID][roomID] = make(map[string]float64, len(trvs))
			for trvID, raw := range trvs {
				var scalar float64
				if err := json.Unmarshal(raw, &scalar); err == nil {
					out[zoneID][roomID][trvID] = scalar
					continue
				}
				var samples []float64
				if err := json.Unmarshal(raw, &samples); err == nil && len(samples) > 0 {
					out[zoneID][roomID][trvID] = mean(samples)
				}
			}
		}
	}
	return out
}

func (c *Controller) restoreAnalytics(stored map[string]map[string]persistedRoomAnalytics) {
	for zoneID, rooms := range stored {
		if c.analytics.history[zoneID] == nil {
			c.analytics.history[zoneID] = make(map[string][]HistoryEntry)
		}
		if c.analytics.rates[zoneID] == nil {
			c.analytics.rates[zoneID] = make(map[string]*smoothedRates)
		}
		for roomID, roomData := range rooms {
			entries := make([]HistoryEntry, 0, len(roomData.History))
			for _, stored := range roomData.History {
				ts, err := time.Parse(time.RFC3339Nano, stored.Timestamp)
				if err != nil {
					c.log.WithError(err).Warn(fmt.Sprintf("skipping history entry for %s/%s", zoneID, roomID))
					continue
				}
				entries = append(entries, HistoryEntry{
					Timestamp:   ts,
					Temperature: stored.Temperature,
					NeedsHeat:   stored.NeedsHeat,
					ZoneHeating: stored.ZoneHeating,
				})
			}
			c.analytics.history[zoneID][roomID] = entries
			rates := roomData.SmoothedRates
			c.analytics.rates[zoneID][roomID] = &rates
		}
	}
}
