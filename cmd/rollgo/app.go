package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/cjeanneret/RollGo/internal/config"
	"github.com/cjeanneret/RollGo/internal/debug"
	"github.com/cjeanneret/RollGo/internal/hw/camera"
	"github.com/cjeanneret/RollGo/internal/hw/gpio"
	"github.com/cjeanneret/RollGo/internal/logic/rolling"
	"github.com/cjeanneret/RollGo/internal/observers"
	"github.com/cjeanneret/RollGo/internal/storage"
	"github.com/cjeanneret/RollGo/internal/storage/catalog"
	"github.com/cjeanneret/RollGo/internal/web"
)

// app holds everything the host builds from the configuration.
type app struct {
	ctrl    *rolling.Controller
	latest  *observers.Latest
	catalog *catalog.Catalog // nil unless capture.catalog_path is set

	closers []io.Closer // released in reverse order after the controller
}

// newApp builds the device, persistence, observers and controller. extra
// event sinks receive every controller event.
func newApp(cfg *config.Config, extra ...rolling.EventSink) (*app, error) {
	a := &app{latest: observers.NewLatest()}

	debug.Step(1, "Initializing capture device")
	opts := cfg.CameraOptions()
	if cfg.Camera.Type == camera.TypeNikonD90GPIO {
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return nil, fmt.Errorf("init GPIO failed: %w", err)
		}
		a.closers = append(a.closers, g)
		opts.GPIO = g
	}
	device, err := camera.New(opts)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("init camera failed: %w", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.Value("Frame size", fmt.Sprintf("%dx%d", cfg.Camera.Width, cfg.Camera.Height))

	debug.Step(2, "Initializing persistence")
	var persister rolling.Persister
	if cfg.Capture.Persist {
		files := storage.NewFiles()
		persister = files
		if cfg.Capture.CatalogPath != "" {
			cat, err := catalog.Open(cfg.Capture.CatalogPath, files)
			if err != nil {
				a.closeAll()
				return nil, fmt.Errorf("open frame catalog: %w", err)
			}
			a.closers = append(a.closers, cat)
			a.catalog = cat
			persister = cat
		}
		debug.Value("Storage path", cfg.Capture.StoragePath)
	}

	debug.Step(3, "Connecting observers")
	var mqttObs *observers.MQTT
	if cfg.MQTT.Enabled {
		client, err := observers.ConnectMQTT(observers.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		})
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.closers = append(a.closers, client)
		mqttObs = observers.NewMQTT(client, cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS))
		extra = append(extra, mqttObs.OnEvent)
		debug.Value("MQTT broker", cfg.MQTT.Broker)
	}

	debug.Step(4, "Creating rolling controller")
	debug.PrintStruct("Rolling config", cfg.Rolling())
	ctrlOpts := []rolling.Option{rolling.WithEvents(rolling.Tee(extra...))}
	if persister != nil {
		ctrlOpts = append(ctrlOpts, rolling.WithPersister(persister))
	}
	a.ctrl = rolling.New(cfg.Rolling(), device, ctrlOpts...)
	if a.ctrl.CurrentState() == rolling.Error {
		a.Close()
		return nil, fmt.Errorf("%w: %s camera did not open", rolling.ErrDeviceUnavailable, cfg.Camera.Type)
	}

	attach := []rolling.Observer{observers.NewLogger("console", nil), a.latest}
	if mqttObs != nil {
		attach = append(attach, mqttObs)
		if err := mqttObs.PublishState(a.ctrl.CurrentState(), ""); err != nil {
			debug.Warn("mqtt: publish state: %v", err)
		}
	}
	for _, o := range attach {
		if err := a.ctrl.Attach(o); err != nil {
			a.Close()
			return nil, err
		}
	}
	debug.Value("Capture interval", cfg.Interval())
	return a, nil
}

// frameIndex returns the catalog as a web.FrameIndex, or nil without one.
func (a *app) frameIndex() web.FrameIndex {
	if a.catalog == nil {
		return nil
	}
	return a.catalog
}

// Close shuts the controller down, then releases the collaborators.
func (a *app) Close() error {
	if a.ctrl != nil {
		a.ctrl.Shutdown()
	}
	return a.closeAll()
}

func (a *app) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
