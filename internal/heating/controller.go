package heating

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmowbray/heatwarden/internal/ports"
)

// Controller owns every stateful component for the process lifetime and runs
// one full update pass over all zones and rooms per tick. Passes never
// overlap; external commands mutate state synchronously and then request a
// coalesced out-of-band refresh.
type Controller struct {
	params    Params
	reader    ports.SensorReader
	commander ports.ActuatorCommander
	store     ports.StateStore
	log       *logrus.Logger
	now       func() time.Time

	fuser     *fuser
	schedule  *scheduleResolver
	boosts    *boostStore
	targets   *targetResolver
	decisions *decisionEngine
	trvs      *trvController
	analytics *analyticsEngine // nil when analytics are disabled

	mu        sync.RWMutex
	published *State

	// refresh is a single-slot pending flag: requests arriving while a
	// pass is in flight coalesce into one follow-up pass.
	refresh chan struct{}
}

func New(params Params, reader ports.SensorReader, commander ports.ActuatorCommander, store ports.StateStore, log *logrus.Logger) (*Controller, error) {
	return NewWithClock(params, reader, commander, store, log, time.Now)
}

// NewWithClock injects the time source, for simulation and replay tooling.
func NewWithClock(params Params, reader ports.SensorReader, commander ports.ActuatorCommander, store ports.StateStore, log *logrus.Logger, now func() time.Time) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	if now == nil {
		now = time.Now
	}

	v := newValidator(params.Analytics.MaxChangePerMinute, log)
	schedule := newScheduleResolver(params.MinimumTemp, log)

	c := &Controller{
		params:    params,
		reader:    reader,
		commander: commander,
		store:     store,
		log:       log,
		now:       now,
		fuser:     newFuser(reader, params.SensorTimeout, v, log),
		schedule:  schedule,
		boosts:    newBoostStore(params.Boost.Duration, params.Boost.Increase, log),
		targets:   newTargetResolver(schedule, params.FrostProtectionTemp, params.MinimumTemp, log),
		decisions: newDecisionEngine(params.HeatingDeadband, log),
		trvs:      newTRVController(commander, params.TRV, log),
		refresh:   make(chan struct{}, 1),
	}
	if params.Analytics.Enabled {
		c.analytics = newAnalyticsEngine(params.Analytics, log)
	}

	if store != nil {
		data, err := store.Load()
		if err != nil {
			log.WithError(err).Warn("could not load persisted state, starting fresh")
		} else {
			c.restoreState(data, c.now())
		}
	}
	return c, nil
}

// Run executes one pass immediately, then one per tick or refresh request,
// until the context is canceled. A failed pass keeps the previous published
// state and does not stop the loop.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.RunPass(); err != nil {
		c.log.WithError(err).Error("initial update pass failed")
	}

	ticker := time.NewTicker(c.params.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.refresh:
		}
		if err := c.RunPass(); err != nil {
			c.log.WithError(err).Error("update pass failed")
		}
	}
}

// RunPass performs one full pass over all zones and rooms. Failures are
// contained at this boundary; the caller sees them as an update failure and
// the previously published state stays valid.
func (c *Controller) RunPass() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUpdateFailed, r)
		}
	}()

	now := c.now()
	state := &State{
		UpdatedAt: now,
		Away:      c.targets.awayMode(),
		Zones:     make(map[string]*ZoneState, len(c.params.Zones)),
	}

	for i := range c.params.Zones {
		zone := &c.params.Zones[i]
		zoneState := &ZoneState{
			ID:            zone.ID,
			Name:          zone.Name,
			DemandMode:    c.params.demandMode(zone),
			Rooms:         make(map[string]*RoomState, len(zone.Rooms)),
			CurrentPeriod: c.schedule.current(zone, now),
			NextPeriod:    c.schedule.next(zone, now),
		}

		for j := range zone.Rooms {
			room := &zone.Rooms[j]
			reading := c.fuser.roomTemperature(zone, room, now)

			var boost *BoostEntry
			if entry, ok := c.boosts.get(zone.ID, room.ID, now); ok {
				boost = &entry
			}

			target, targetSource := c.targets.resolve(zone, boost, now)
			needsHeat := c.decisions.needsHeat(zone.ID, room.ID, reading.Value, &target)

			zoneState.Rooms[room.ID] = &RoomState{
				ID:                room.ID,
				Name:              room.Name,
				Temperature:       reading.Value,
				TemperatureSource: reading.Source,
				LastSeen:          reading.LastSeen,
				Sensors:           reading.Sensors,
				Target:            target,
				TargetSource:      targetSource,
				Boost:             boost,
				NeedsHeating:      needsHeat,
			}
		}

		zoneState.HeatingDemand = zoneDemand(zoneState.Rooms, zoneState.DemandMode, c.params.HeatingDeadband)

		// TRV commanding and analytics run after aggregation so both see
		// the zone-level demand for this pass.
		for j := range zone.Rooms {
			room := &zone.Rooms[j]
			rs := zoneState.Rooms[room.ID]

			rs.TRVs = c.trvs.apply(zone.ID, room.ID, room, rs.Target, rs.Temperature, rs.NeedsHeating)

			if c.analytics != nil && rs.Temperature != nil {
				c.analytics.record(zone.ID, room.ID, *rs.Temperature, rs.NeedsHeating, zoneState.HeatingDemand, now)
				analytics := c.analytics.snapshot(zone.ID, room.ID, *rs.Temperature, rs.Target, rs.NeedsHeating, now)
				rs.Analytics = &analytics
			}
		}

		state.Zones[zone.ID] = zoneState
	}

	c.published = state
	c.persist()
	return nil
}

// persist writes the state blob once per completed pass. Failures are logged,
// never fatal: the next pass retries.
func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	blob, err := c.marshalState()
	if err != nil {
		c.log.WithError(err).Error("failed to serialize state")
		return
	}
	if err := c.store.Save(blob); err != nil {
		c.log.WithError(err).Error("failed to persist state")
	}
}

// StateSnapshot returns the most recently published state, or nil before the
// first successful pass.
func (c *Controller) StateSnapshot() *State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}

// SetBoost applies a timed override to a room. A nil temperature boosts from
// the current fused room temperature; a nil duration uses the default.
func (c *Controller) SetBoost(zoneID, roomID string, temperature *float64, duration *time.Duration) error {
	if temperature != nil && (*temperature < minValidTemp || *temperature > maxValidTemp) {
		err := fmt.Errorf("%w: %.1f", ErrInvalidTemperature, *temperature)
		c.log.WithError(err).Error("set boost rejected")
		return err
	}
	c.mu.Lock()
	zone, room, err := c.findRoom(zoneID, roomID)
	if err == nil {
		now := c.now()
		err = c.boosts.set(zone, room, temperature, duration, now, func() *float64 {
			return c.fuser.roomTemperature(zone, room, now).Value
		})
	}
	c.mu.Unlock()
	if err != nil {
		c.log.WithError(err).Error("set boost rejected")
		return err
	}
	c.requestRefresh()
	return nil
}

// ClearBoost removes a room's boost and reports whether one was active.
func (c *Controller) ClearBoost(zoneID, roomID string) (bool, error) {
	c.mu.Lock()
	_, _, err := c.findRoom(zoneID, roomID)
	cleared := false
	if err == nil {
		cleared = c.boosts.clear(zoneID, roomID)
	}
	c.mu.Unlock()
	if err != nil {
		c.log.WithError(err).Error("clear boost rejected")
		return false, err
	}
	if cleared {
		c.requestRefresh()
	}
	return cleared, nil
}

func (c *Controller) SetAwayMode(enabled bool) {
	c.mu.Lock()
	c.targets.setAway(enabled)
	c.mu.Unlock()
	c.log.WithField("enabled", enabled).Info("away mode changed")
	c.requestRefresh()
}

// SetManualZoneTemperature pins a zone's target until the schedule resolves
// to a different value than it does now.
func (c *Controller) SetManualZoneTemperature(zoneID string, temperature float64) error {
	if temperature < minValidTemp || temperature > maxValidTemp {
		err := fmt.Errorf("%w: %.1f", ErrInvalidTemperature, temperature)
		c.log.WithError(err).Error("set manual zone temperature rejected")
		return err
	}
	c.mu.Lock()
	zone, err := c.findZone(zoneID)
	if err == nil {
		c.targets.setManual(zone, temperature, c.now())
	}
	c.mu.Unlock()
	if err != nil {
		c.log.WithError(err).Error("set manual zone temperature rejected")
		return err
	}
	c.requestRefresh()
	return nil
}

func (c *Controller) requestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

func (c *Controller) findZone(zoneID string) (*Zone, error) {
	for i := range c.params.Zones {
		if c.params.Zones[i].ID == zoneID {
			return &c.params.Zones[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrZoneNotFound, zoneID)
}

func (c *Controller) findRoom(zoneID, roomID string) (*Zone, *Room, error) {
	zone, err := c.findZone(zoneID)
	if err != nil {
		return nil, nil, err
	}
	for i := range zone.Rooms {
		if zone.Rooms[i].ID == roomID {
			return zone, &zone.Rooms[i], nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s/%s", ErrRoomNotFound, zoneID, roomID)
}
