package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/dmowbray/heatwarden/internal/heating"
)

const envPrefix = "HEATWARDEN_"

type SensorConfig struct {
	Temperature string `koanf:"temperature"`
	LastSeen    string `koanf:"last_seen"`
}

type RoomConfig struct {
	Name    string         `koanf:"name"`
	Sensors []SensorConfig `koanf:"sensors"`
	TRVs    []string       `koanf:"trvs"`
}

type PeriodConfig struct {
	Start       string  `koanf:"start"`
	End         string  `koanf:"end"`
	Temperature float64 `koanf:"temperature"`
}

type ScheduleConfig struct {
	Weekday []PeriodConfig `koanf:"weekday"`
	Weekend []PeriodConfig `koanf:"weekend"`
}

type ZoneConfig struct {
	Name              string                `koanf:"name"`
	HeatingDemandMode string                `koanf:"heating_demand_mode"`
	Schedule          ScheduleConfig        `koanf:"schedule"`
	Rooms             map[string]RoomConfig `koanf:"rooms"`
}

type BoostConfig struct {
	Duration time.Duration `koanf:"duration"`
	Increase float64       `koanf:"increase"`
}

type TRVConfig struct {
	Enabled            bool    `koanf:"enabled"`
	MaxBoost           float64 `koanf:"max_boost"`
	MaxSetpoint        float64 `koanf:"max_setpoint"`
	OvershootThreshold float64 `koanf:"overshoot_threshold"`
	CooldownOffset     float64 `koanf:"cooldown_offset"`
	EMAAlpha           float64 `koanf:"ema_alpha"`
}

type AnalyticsConfig struct {
	Enabled            bool    `koanf:"enabled"`
	HistorySize        int     `koanf:"history_size"`
	MinSamples         int     `koanf:"min_samples"`
	Smoothing          float64 `koanf:"smoothing"`
	MaxChangePerMinute float64 `koanf:"max_change_per_minute"`
}

type ControllerConfig struct {
	UpdateInterval      time.Duration         `koanf:"update_interval"`
	SensorTimeout       time.Duration         `koanf:"sensor_timeout"`
	MinimumTemp         float64               `koanf:"minimum_temp"`
	FrostProtectionTemp float64               `koanf:"frost_protection_temp"`
	HeatingDeadband     float64               `koanf:"heating_deadband"`
	HeatingDemandMode   string                `koanf:"heating_demand_mode"`
	Boost               BoostConfig           `koanf:"boost"`
	TRV                 TRVConfig             `koanf:"trv"`
	Analytics           AnalyticsConfig       `koanf:"analytics"`
	Zones               map[string]ZoneConfig `koanf:"zones"`
}

type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

type MQTTConfig struct {
	Enabled         bool          `koanf:"enabled"`
	BrokerURL       string        `koanf:"broker_url"`
	ClientID        string        `koanf:"client_id"`
	BaseTopic       string        `koanf:"base_topic"`
	QoS             byte          `koanf:"qos"`
	PublishInterval time.Duration `koanf:"publish_interval"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
}

type RegisterConfig struct {
	UnitID  int     `koanf:"unit_id"`
	Input   int     `koanf:"input"`
	Holding int     `koanf:"holding"`
	Scale   float64 `koanf:"scale"`
}

type ModbusConfig struct {
	Enabled   bool                      `koanf:"enabled"`
	Addr      string                    `koanf:"addr"`
	Timeout   time.Duration             `koanf:"timeout"`
	Sensors   map[string]RegisterConfig `koanf:"sensors"`
	Actuators map[string]RegisterConfig `koanf:"actuators"`
}

type Config struct {
	StateFile  string           `koanf:"state_file"`
	HTTP       HTTPConfig       `koanf:"http"`
	MQTT       MQTTConfig       `koanf:"mqtt"`
	Modbus     ModbusConfig     `koanf:"modbus"`
	Controller ControllerConfig `koanf:"controller"`
}

func defaultConfig() Config {
	return Config{
		StateFile: "heatwarden-state.json",
		HTTP:      HTTPConfig{Enabled: true, Addr: ":8080"},
		MQTT: MQTTConfig{
			BrokerURL:       "tcp://localhost:1883",
			ClientID:        "heatwarden",
			BaseTopic:       "heatwarden",
			PublishInterval: time.Minute,
		},
		Modbus: ModbusConfig{Timeout: 5 * time.Second},
		Controller: ControllerConfig{
			UpdateInterval:      time.Minute,
			SensorTimeout:       30 * time.Minute,
			MinimumTemp:         15.0,
			FrostProtectionTemp: 15.0,
			HeatingDeadband:     0.3,
			HeatingDemandMode:   "any_room",
			Boost:               BoostConfig{Duration: 30 * time.Minute, Increase: 2.0},
			TRV: TRVConfig{
				Enabled:            true,
				MaxBoost:           10.0,
				MaxSetpoint:        30.0,
				OvershootThreshold: 0.3,
				CooldownOffset:     1.0,
				EMAAlpha:           0.15,
			},
			Analytics: AnalyticsConfig{
				Enabled:            true,
				HistorySize:        30,
				MinSamples:         3,
				Smoothing:          0.3,
				MaxChangePerMinute: 0.5,
			},
		},
	}
}

// LoadConfig layers defaults, an optional YAML/JSON file, and environment
// overrides (HEATWARDEN_ prefix, "__" separating nested keys).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			// Config file missing → use defaults
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKeyTransform(key), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// envKeyTransform maps HEATWARDEN_CONTROLLER__MINIMUM_TEMP to
// controller.minimum_temp: the double underscore separates nesting levels so
// single underscores survive inside key names.
func envKeyTransform(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

// Params converts the declarative configuration into the controller's
// normalized parameters. Map keys become ids; zones and rooms are sorted so
// pass order is deterministic.
func (c Config) Params() (heating.Params, error) {
	defaultMode, err := heating.ParseDemandMode(c.Controller.HeatingDemandMode)
	if err != nil {
		return heating.Params{}, err
	}

	params := heating.Params{
		UpdateInterval:      c.Controller.UpdateInterval,
		SensorTimeout:       c.Controller.SensorTimeout,
		MinimumTemp:         c.Controller.MinimumTemp,
		FrostProtectionTemp: c.Controller.FrostProtectionTemp,
		HeatingDeadband:     c.Controller.HeatingDeadband,
		DefaultDemandMode:   defaultMode,
		Boost: heating.BoostParams{
			Duration: c.Controller.Boost.Duration,
			Increase: c.Controller.Boost.Increase,
		},
		TRV: heating.TRVParams{
			Enabled:            c.Controller.TRV.Enabled,
			MaxBoost:           c.Controller.TRV.MaxBoost,
			MaxSetpoint:        c.Controller.TRV.MaxSetpoint,
			OvershootThreshold: c.Controller.TRV.OvershootThreshold,
			CooldownOffset:     c.Controller.TRV.CooldownOffset,
			EMAAlpha:           c.Controller.TRV.EMAAlpha,
		},
		Analytics: heating.AnalyticsParams{
			Enabled:            c.Controller.Analytics.Enabled,
			HistorySize:        c.Controller.Analytics.HistorySize,
			MinSamples:         c.Controller.Analytics.MinSamples,
			Smoothing:          c.Controller.Analytics.Smoothing,
			MaxChangePerMinute: c.Controller.Analytics.MaxChangePerMinute,
		},
	}

	for _, zoneID := range sortedKeys(c.Controller.Zones) {
		zc := c.Controller.Zones[zoneID]
		zone := heating.Zone{
			ID:   zoneID,
			Name: zc.Name,
			Schedule: heating.WeeklySchedule{
				Weekday: periods(zc.Schedule.Weekday),
				Weekend: periods(zc.Schedule.Weekend),
			},
		}
		if zone.Name == "" {
			zone.Name = zoneID
		}
		if zc.HeatingDemandMode != "" {
			mode, err := heating.ParseDemandMode(zc.HeatingDemandMode)
			if err != nil {
				return heating.Params{}, fmt.Errorf("zone %s: %w", zoneID, err)
			}
			zone.DemandMode = mode
		}

		for _, roomID := range sortedKeys(zc.Rooms) {
			rc := zc.Rooms[roomID]
			room := heating.Room{ID: roomID, Name: rc.Name, TRVs: rc.TRVs}
			if room.Name == "" {
				room.Name = roomID
			}
			for _, sc := range rc.Sensors {
				if sc.Temperature == "" {
					return heating.Params{}, fmt.Errorf("zone %s room %s: sensor without temperature id", zoneID, roomID)
				}
				room.Sensors = append(room.Sensors, heating.SensorRef{
					Temperature: sc.Temperature,
					LastSeen:    sc.LastSeen,
				})
			}
			zone.Rooms = append(zone.Rooms, room)
		}
		params.Zones = append(params.Zones, zone)
	}

	return params, nil
}

func periods(in []PeriodConfig) []heating.SchedulePeriod {
	out := make([]heating.SchedulePeriod, 0, len(in))
	for _, p := range in {
		out = append(out, heating.SchedulePeriod{Start: p.Start, End: p.End, Temperature: p.Temperature})
	}
	return out
}

// SensorTopics lists every topic the MQTT bridge must subscribe to: sensor
// values, dedicated last-seen feeds, and TRV internal temperatures.
func (c Config) SensorTopics() []string {
	seen := make(map[string]struct{})
	var topics []string
	add := func(t string) {
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}
	for _, zc := range c.Controller.Zones {
		for _, rc := range zc.Rooms {
			for _, sc := range rc.Sensors {
				add(sc.Temperature)
				add(sc.LastSeen)
			}
			for _, trv := range rc.TRVs {
				add(trv + "/current")
			}
		}
	}
	sort.Strings(topics)
	return topics
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
