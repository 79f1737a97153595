package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dmowbray/heatwarden/cmd/app"
	modbusbridge "github.com/dmowbray/heatwarden/internal/bridge/modbus"
	mqttbridge "github.com/dmowbray/heatwarden/internal/bridge/mqtt"
	httpctrl "github.com/dmowbray/heatwarden/internal/controllers/http"
	"github.com/dmowbray/heatwarden/internal/heating"
	"github.com/dmowbray/heatwarden/internal/ports"
	"github.com/dmowbray/heatwarden/internal/store"
)

type args struct {
	Config   string `arg:"-c,--config,env:HEATWARDEN_CONFIG" default:"config.yaml" help:"path to config file (.yaml/.yml/.json)"`
	LogLevel string `arg:"--log-level,env:HEATWARDEN_LOG_LEVEL" default:"info" help:"trace|debug|info|warn|error"`
}

func (args) Description() string {
	return "heatwarden - multi-zone heating controller"
}

func main() {
	var a args
	arg.MustParse(&a)

	log := logrus.New()
	level, err := logrus.ParseLevel(a.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	log.SetLevel(level)

	cfg, err := app.LoadConfig(a.Config)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	params, err := cfg.Params()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	var (
		reader    ports.SensorReader
		commander ports.ActuatorCommander
		runBridge func(context.Context) error
	)
	var ctrl *heating.Controller

	switch {
	case cfg.MQTT.Enabled && cfg.Modbus.Enabled:
		log.Fatal("enable either mqtt or modbus, not both")
	case cfg.MQTT.Enabled:
		bridge, err := mqttbridge.New(mqttbridge.Config{
			BrokerURL:       cfg.MQTT.BrokerURL,
			ClientID:        cfg.MQTT.ClientID,
			BaseTopic:       cfg.MQTT.BaseTopic,
			QoS:             cfg.MQTT.QoS,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			PublishInterval: cfg.MQTT.PublishInterval,
		}, cfg.SensorTopics(), func() *heating.State {
			if ctrl == nil {
				return nil
			}
			return ctrl.StateSnapshot()
		}, log)
		if err != nil {
			log.WithError(err).Fatal("mqtt bridge")
		}
		reader, commander = bridge, bridge
		runBridge = bridge.Run
	case cfg.Modbus.Enabled:
		bridge, err := modbusbridge.New(modbusbridge.Config{
			Addr:      cfg.Modbus.Addr,
			Timeout:   cfg.Modbus.Timeout,
			Sensors:   registerMaps(cfg.Modbus.Sensors),
			Actuators: registerMaps(cfg.Modbus.Actuators),
		}, log)
		if err != nil {
			log.WithError(err).Fatal("modbus bridge")
		}
		if err := bridge.Connect(); err != nil {
			log.WithError(err).Fatal("modbus connect")
		}
		defer bridge.Close()
		reader, commander = bridge, bridge
	default:
		log.Fatal("no transport enabled: set mqtt.enabled or modbus.enabled")
	}

	ctrl, err = heating.New(params, reader, commander, store.NewFile(cfg.StateFile), log)
	if err != nil {
		log.WithError(err).Fatal("controller init")
	}
	g.Go(func() error { return ctrl.Run(ctx) })
	if runBridge != nil {
		g.Go(func() error { return runBridge(ctx) })
	}

	if cfg.HTTP.Enabled {
		srv := httpctrl.New(ctrl, cfg.HTTP.Addr, log)
		g.Go(func() error { return srv.Run(ctx) })
		log.WithField("addr", cfg.HTTP.Addr).Info("http api listening")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("exited")
	}
}

func registerMaps(in map[string]app.RegisterConfig) map[string]modbusbridge.RegisterMap {
	out := make(map[string]modbusbridge.RegisterMap, len(in))
	for id, rc := range in {
		out[id] = modbusbridge.RegisterMap{
			UnitID:  byte(rc.UnitID),
			Input:   uint16(rc.Input),
			Holding: uint16(rc.Holding),
			Scale:   rc.Scale,
		}
	}
	return out
}
