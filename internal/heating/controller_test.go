package heating

import (
	"errors"
	"testing"
	"time"
)

func TestRunPassPublishesState(t *testing.T) {
	rig := newTestController(t)
	rig.reader.Set("sensor.living_temp", "18.0", testNow)
	rig.commander.Internal["trv.living"] = 20.5

	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	state := rig.ctrl.StateSnapshot()
	if state == nil {
		t.Fatal("no state published")
	}
	if !state.UpdatedAt.Equal(testNow) {
		t.Fatalf("updated at = %v, want %v", state.UpdatedAt, testNow)
	}

	zone := state.Zones["ground"]
	if zone == nil {
		t.Fatal("zone missing from state")
	}
	if !zone.HeatingDemand {
		t.Fatal("cold room must raise zone demand")
	}
	if zone.CurrentPeriod == nil || zone.CurrentPeriod.Start != "07:00" {
		t.Fatalf("current period = %+v", zone.CurrentPeriod)
	}
	if zone.NextPeriod != nil {
		t.Fatalf("next period = %+v, want nil", zone.NextPeriod)
	}

	room := zone.Rooms["living"]
	assertFloatPtr(t, room.Temperature, 18.0)
	if room.TemperatureSource != TempSourceLocal {
		t.Fatalf("temperature source = %v", room.TemperatureSource)
	}
	assertFloat(t, room.Target, 20.0)
	if room.TargetSource != TargetSchedule {
		t.Fatalf("target source = %v", room.TargetSource)
	}
	if !room.NeedsHeating {
		t.Fatal("room below target must need heating")
	}

	// First pass with internal 20.5: learned offset 2.5, deficit 2.0.
	trv := room.TRVs["trv.living"]
	if !trv.Commanded {
		t.Fatal("valve should be commanded")
	}
	assertFloat(t, trv.Setpoint, 25.5)
	if got, ok := rig.commander.LastCommand("trv.living"); !ok || got != 25.5 {
		t.Fatalf("commanded %v, want 25.5", got)
	}

	if room.Analytics == nil {
		t.Fatal("analytics expected on measurable room")
	}
	if room.Analytics.Samples != 1 {
		t.Fatalf("analytics samples = %d, want 1", room.Analytics.Samples)
	}

	if rig.store.Saves != 1 {
		t.Fatalf("saves = %d, want 1 per pass", rig.store.Saves)
	}
}

func TestRunPassUnavailableRoom(t *testing.T) {
	rig := newTestController(t)
	// Sensor never reports.

	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	room := rig.ctrl.StateSnapshot().Zones["ground"].Rooms["living"]
	if room.Temperature != nil {
		t.Fatal("no reading expected")
	}
	if room.TemperatureSource != TempSourceUnavailable {
		t.Fatalf("source = %v, want unavailable", room.TemperatureSource)
	}
	if room.NeedsHeating {
		t.Fatal("unmeasurable room must not need heat")
	}
	if room.Analytics != nil {
		t.Fatal("no analytics without a temperature")
	}
}

func TestRunPassRecoversFromPanic(t *testing.T) {
	rig := newTestController(t)
	rig.reader.Set("sensor.living_temp", "18.0", testNow)
	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	before := rig.ctrl.StateSnapshot()

	// A nil reader makes the fusion stage panic mid-pass.
	rig.ctrl.fuser.reader = nil
	err := rig.ctrl.RunPass()
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("err = %v, want ErrUpdateFailed", err)
	}
	if rig.ctrl.StateSnapshot() != before {
		t.Fatal("failed pass must keep the previous published state")
	}
}

func TestSetBoostFlow(t *testing.T) {
	rig := newTestController(t)
	rig.reader.Set("sensor.living_temp", "18.0", testNow)

	// Default temperature: current room temperature plus the increase.
	if err := rig.ctrl.SetBoost("ground", "living", nil, nil); err != nil {
		t.Fatalf("SetBoost failed: %v", err)
	}
	select {
	case <-rig.ctrl.refresh:
	default:
		t.Fatal("boost must request a refresh")
	}

	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	room := rig.ctrl.StateSnapshot().Zones["ground"].Rooms["living"]
	if room.TargetSource != TargetBoost {
		t.Fatalf("target source = %v, want boost", room.TargetSource)
	}
	assertFloat(t, room.Target, 20.0) // 18.0 + 2.0
	if room.Boost == nil {
		t.Fatal("boost must be visible on the room state")
	}
}

func TestSetBoostUnknownRoom(t *testing.T) {
	rig := newTestController(t)

	if err := rig.ctrl.SetBoost("ground", "attic", fptr(22.0), nil); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("err = %v, want ErrRoomNotFound", err)
	}
	if err := rig.ctrl.SetBoost("basement", "living", fptr(22.0), nil); !errors.Is(err, ErrZoneNotFound) {
		t.Fatalf("err = %v, want ErrZoneNotFound", err)
	}
	select {
	case <-rig.ctrl.refresh:
		t.Fatal("rejected boost must not request a refresh")
	default:
	}
}

func TestCommandTemperatureBounds(t *testing.T) {
	rig := newTestController(t)

	if err := rig.ctrl.SetBoost("ground", "living", fptr(80.0), nil); !errors.Is(err, ErrInvalidTemperature) {
		t.Fatalf("err = %v, want ErrInvalidTemperature", err)
	}
	if err := rig.ctrl.SetManualZoneTemperature("ground", -30.0); !errors.Is(err, ErrInvalidTemperature) {
		t.Fatalf("err = %v, want ErrInvalidTemperature", err)
	}
	select {
	case <-rig.ctrl.refresh:
		t.Fatal("rejected command must not request a refresh")
	default:
	}
}

func TestClearBoost(t *testing.T) {
	rig := newTestController(t)
	rig.reader.Set("sensor.living_temp", "18.0", testNow)

	cleared, err := rig.ctrl.ClearBoost("ground", "living")
	if err != nil {
		t.Fatalf("ClearBoost failed: %v", err)
	}
	if cleared {
		t.Fatal("nothing to clear yet")
	}

	if err := rig.ctrl.SetBoost("ground", "living", fptr(23.0), nil); err != nil {
		t.Fatalf("SetBoost failed: %v", err)
	}
	cleared, err = rig.ctrl.ClearBoost("ground", "living")
	if err != nil || !cleared {
		t.Fatalf("cleared = %v, err = %v", cleared, err)
	}

	if _, err := rig.ctrl.ClearBoost("basement", "living"); !errors.Is(err, ErrZoneNotFound) {
		t.Fatalf("err = %v, want ErrZoneNotFound", err)
	}
}

func TestAwayModeOverridesBoost(t *testing.T) {
	rig := newTestController(t)
	rig.reader.Set("sensor.living_temp", "18.0", testNow)

	if err := rig.ctrl.SetBoost("ground", "living", fptr(23.0), nil); err != nil {
		t.Fatalf("SetBoost failed: %v", err)
	}
	rig.ctrl.SetAwayMode(true)

	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	state := rig.ctrl.StateSnapshot()
	if !state.Away {
		t.Fatal("away flag must be published")
	}
	room := state.Zones["ground"].Rooms["living"]
	assertFloat(t, room.Target, 15.0)
	if room.TargetSource != TargetAway {
		t.Fatalf("target source = %v, want away", room.TargetSource)
	}
}

func TestSetManualZoneTemperature(t *testing.T) {
	rig := newTestController(t)
	rig.reader.Set("sensor.living_temp", "18.0", testNow)

	if err := rig.ctrl.SetManualZoneTemperature("ground", 24.0); err != nil {
		t.Fatalf("SetManualZoneTemperature failed: %v", err)
	}
	if err := rig.ctrl.SetManualZoneTemperature("basement", 24.0); !errors.Is(err, ErrZoneNotFound) {
		t.Fatalf("err = %v, want ErrZoneNotFound", err)
	}

	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	room := rig.ctrl.StateSnapshot().Zones["ground"].Rooms["living"]
	assertFloat(t, room.Target, 24.0)
	if room.TargetSource != TargetManual {
		t.Fatalf("target source = %v, want manual", room.TargetSource)
	}
}

func TestControllerRestartPersistence(t *testing.T) {
	rig := newTestController(t)
	rig.reader.Set("sensor.living_temp", "18.0", testNow)
	rig.commander.Internal["trv.living"] = 20.5

	if err := rig.ctrl.SetBoost("ground", "living", fptr(23.0), nil); err != nil {
		t.Fatalf("SetBoost failed: %v", err)
	}
	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	// A new controller against the same store picks up where the old one left.
	restarted, err := New(testParams(), rig.reader, rig.commander, rig.store, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	restarted.now = func() time.Time { return testNow.Add(time.Minute) }

	if err := restarted.RunPass(); err != nil {
		t.Fatalf("RunPass after restart failed: %v", err)
	}
	room := restarted.StateSnapshot().Zones["ground"].Rooms["living"]
	if room.TargetSource != TargetBoost {
		t.Fatalf("target source = %v, want restored boost", room.TargetSource)
	}
	assertFloat(t, room.Target, 23.0)
}

func TestAnalyticsDisabled(t *testing.T) {
	rig := newTestController(t, func(p *Params) { p.Analytics.Enabled = false })
	rig.reader.Set("sensor.living_temp", "18.0", testNow)

	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	room := rig.ctrl.StateSnapshot().Zones["ground"].Rooms["living"]
	if room.Analytics != nil {
		t.Fatal("analytics must be absent when disabled")
	}
}

func TestRequestRefreshCoalesces(t *testing.T) {
	rig := newTestController(t)
	rig.ctrl.requestRefresh()
	rig.ctrl.requestRefresh()
	rig.ctrl.requestRefresh()

	<-rig.ctrl.refresh
	select {
	case <-rig.ctrl.refresh:
		t.Fatal("multiple requests must coalesce into one pending refresh")
	default:
	}
}

func TestNewRejectsInvalidParams(t *testing.T) {
	params := testParams(func(p *Params) { p.UpdateInterval = 0 })
	if _, err := New(params, nil, nil, nil, testLogger()); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("err = %v, want ErrInvalidParams", err)
	}
}

func TestStateSummarize(t *testing.T) {
	rig := newTestController(t)
	rig.reader.Set("sensor.living_temp", "18.0", testNow)

	if err := rig.ctrl.RunPass(); err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}
	sum := rig.ctrl.StateSnapshot().Summarize()
	if sum.Rooms != 1 || sum.RoomsHeating != 1 || sum.ZonesDemanding != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	assertFloatPtr(t, sum.MinTemperature, 18.0)
	assertFloatPtr(t, sum.MaxTemperature, 18.0)
	assertFloatPtr(t, sum.MeanTemperature, 18.0)
}
