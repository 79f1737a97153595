package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmowbray/heatwarden/internal/heating"
	"github.com/dmowbray/heatwarden/internal/ports"
)

// simHouse is a crude first-order thermal model: the room warms while the
// zone demands heat and drifts toward ambient otherwise. The valve's internal
// sensor sits a fixed bias above the room, so the adaptive offset has
// something to learn.
type simHouse struct {
	temp     float64
	now      time.Time
	heating  bool
	setpoint float64
}

const (
	heatingRatePerMin = 0.035 // °C gained per simulated minute while heating
	coolingRatePerMin = 0.012 // °C lost per simulated minute otherwise
	valveBias         = 2.2   // internal sensor reads this much above the room
)

func (h *simHouse) ReadSensor(string) ports.SensorSample {
	return ports.SensorSample{
		Value:       strconv.FormatFloat(h.temp, 'f', 2, 64),
		LastUpdated: h.now,
		Available:   true,
	}
}

func (h *simHouse) CommandSetpoint(_ string, setpoint float64) error {
	h.setpoint = setpoint
	return nil
}

func (h *simHouse) InternalTemperature(string) (float64, bool) {
	return h.temp + valveBias, true
}

func (h *simHouse) step() {
	if h.heating {
		h.temp += heatingRatePerMin
	} else {
		h.temp -= coolingRatePerMin
	}
}

func simParams() heating.Params {
	return heating.Params{
		UpdateInterval:      time.Minute,
		SensorTimeout:       30 * time.Minute,
		MinimumTemp:         15.0,
		FrostProtectionTemp: 15.0,
		HeatingDeadband:     0.3,
		DefaultDemandMode:   heating.DemandAnyRoom,
		Boost:               heating.BoostParams{Duration: 30 * time.Minute, Increase: 2.0},
		TRV: heating.TRVParams{
			Enabled:            true,
			MaxBoost:           10.0,
			MaxSetpoint:        30.0,
			OvershootThreshold: 0.3,
			CooldownOffset:     1.0,
			EMAAlpha:           0.15,
		},
		Analytics: heating.AnalyticsParams{
			Enabled:            true,
			HistorySize:        30,
			MinSamples:         3,
			Smoothing:          0.3,
			MaxChangePerMinute: 0.5,
		},
		Zones: []heating.Zone{
			{
				ID: "sim",
				Schedule: heating.WeeklySchedule{
					Weekday: []heating.SchedulePeriod{{Start: "00:00", End: "24:00", Temperature: 20.0}},
					Weekend: []heating.SchedulePeriod{{Start: "00:00", End: "24:00", Temperature: 20.0}},
				},
				Rooms: []heating.Room{
					{
						ID:      "room",
						Sensors: []heating.SensorRef{{Temperature: "sim/room/temperature"}},
						TRVs:    []string{"sim/room/trv"},
					},
				},
			},
		},
	}
}

func simulate(minutes int, filename string) error {
	house := &simHouse{
		temp: 16.5,
		now:  time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC),
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	ctrl, err := heating.NewWithClock(simParams(), house, house, nil, log, func() time.Time { return house.now })
	if err != nil {
		return fmt.Errorf("failed to create controller: %v", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Minute", "Temperature", "Target", "NeedsHeat", "ZoneDemand", "Setpoint", "HeatingRate", "ETAMinutes", "Confidence"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for i := 0; i < minutes; i++ {
		if err := ctrl.RunPass(); err != nil {
			return fmt.Errorf("pass %d failed: %v", i, err)
		}

		state := ctrl.StateSnapshot()
		zone := state.Zones["sim"]
		room := zone.Rooms["room"]

		rate, eta, confidence := "", "", ""
		if room.Analytics != nil {
			if room.Analytics.HeatingRate != nil {
				rate = fmt.Sprintf("%.3f", *room.Analytics.HeatingRate)
			}
			if room.Analytics.ETAMinutes != nil {
				eta = fmt.Sprintf("%d", *room.Analytics.ETAMinutes)
			}
			confidence = fmt.Sprintf("%.2f", room.Analytics.Confidence)
		}

		record := []string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%.2f", house.temp),
			fmt.Sprintf("%.1f", room.Target),
			fmt.Sprintf("%t", room.NeedsHeating),
			fmt.Sprintf("%t", zone.HeatingDemand),
			fmt.Sprintf("%.1f", house.setpoint),
			rate, eta, confidence,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %v", err)
		}

		house.heating = zone.HeatingDemand
		house.step()
		house.now = house.now.Add(time.Minute)
	}

	return nil
}

func main() {
	if err := simulate(720, "heatwarden.csv"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
