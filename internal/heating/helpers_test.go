package heating

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmowbray/heatwarden/internal/testutil"
)

// testNow is a Wednesday at 12:00 so weekday schedules apply.
var testNow = time.Date(2026, time.January, 7, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testParams(opts ...func(*Params)) Params {
	p := Params{
		UpdateInterval:      time.Minute,
		SensorTimeout:       30 * time.Minute,
		MinimumTemp:         15.0,
		FrostProtectionTemp: 15.0,
		HeatingDeadband:     0.3,
		DefaultDemandMode:   DemandAnyRoom,
		Boost: BoostParams{
			Duration: 30 * time.Minute,
			Increase: 2.0,
		},
		TRV: TRVParams{
			Enabled:            true,
			MaxBoost:           10.0,
			MaxSetpoint:        30.0,
			OvershootThreshold: 0.3,
			CooldownOffset:     1.0,
			EMAAlpha:           0.15,
		},
		Analytics: AnalyticsParams{
			Enabled:            true,
			HistorySize:        30,
			MinSamples:         3,
			Smoothing:          0.3,
			MaxChangePerMinute: 0.5,
		},
		Zones: []Zone{
			{
				ID:   "ground",
				Name: "Ground Floor",
				Schedule: WeeklySchedule{
					Weekday: []SchedulePeriod{
						{Start: "07:00", End: "22:00", Temperature: 20.0},
					},
					Weekend: []SchedulePeriod{
						{Start: "08:00", End: "23:00", Temperature: 21.0},
					},
				},
				Rooms: []Room{
					{
						ID:      "living",
						Name:    "Living Room",
						Sensors: []SensorRef{{Temperature: "sensor.living_temp"}},
						TRVs:    []string{"trv.living"},
					},
				},
			},
		},
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

type testRig struct {
	ctrl      *Controller
	reader    *testutil.FakeSensorReader
	commander *testutil.FakeCommander
	store     *testutil.MemStore
}

func newTestController(t *testing.T, opts ...func(*Params)) *testRig {
	t.Helper()

	rig := &testRig{
		reader:    testutil.NewFakeSensorReader(),
		commander: testutil.NewFakeCommander(),
		store:     &testutil.MemStore{},
	}

	ctrl, err := New(testParams(opts...), rig.reader, rig.commander, rig.store, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctrl.now = func() time.Time { return testNow }
	rig.ctrl = ctrl
	return rig
}

func assertFloat(t *testing.T, got, want float64) {
	t.Helper()
	const eps = 1e-9
	if got < want-eps || got > want+eps {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func assertFloatPtr(t *testing.T, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Fatalf("got nil, want %v", want)
	}
	assertFloat(t, *got, want)
}
