package main

import (
	"context"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/jkaflik/cover2mqtt/internal/cover/pulse"
	"github.com/jkaflik/cover2mqtt/internal/cover/timebased"
	"github.com/jkaflik/cover2mqtt/internal/cover/travel"
	"github.com/jkaflik/cover2mqtt/internal/listener"
	"github.com/jkaflik/cover2mqtt/internal/mqtt"
)

// cfgTravelTime holds full travel durations in seconds.
type cfgTravelTime struct {
	Up   float64 `yaml:"up"`
	Down float64 `yaml:"down"`
}

type cfgActuatorPin struct {
	Kind string `yaml:"kind"`

	// mcp23017 pins
	Mcp23017 int   `yaml:"mcp23017"`
	Pin      uint8 `yaml:"pin"`

	// gpiod pins
	Chip   string `yaml:"chip" default:"gpiochip0"`
	Offset int    `yaml:"offset"`
}

type cfgActuator struct {
	Kind string `yaml:"kind" default:"select"`

	EntityID      string `yaml:"entity_id"`
	UpOption      string `yaml:"up_option"`
	DownOption    string `yaml:"down_option"`
	NeutralOption string `yaml:"neutral_option"`
	PulseWidthMs  int    `yaml:"pulse_width_ms"`

	// wired kind only
	Pins         map[string]cfgActuatorPin `yaml:"pins"`
	NormalClosed bool                      `yaml:"normal_closed"`
}

type cfgSwitch struct {
	Position string `yaml:"position" default:"left"`
	Inverted bool   `yaml:"inverted"`
}

type cfgTriggers struct {
	On  []string `yaml:"on"`
	Off []string `yaml:"off"`
}

type cfgListeners struct {
	Triggers *cfgTriggers         `yaml:"triggers"`
	Switches map[string]cfgSwitch `yaml:"switches"`
}

type cfgCover struct {
	Name string `yaml:"name"`

	TravelTime cfgTravelTime  `yaml:"travel_time"`
	TiltTime   *cfgTravelTime `yaml:"tilt_time"`

	Actuator  cfgActuator  `yaml:"actuator"`
	Listeners cfgListeners `yaml:"listeners"`

	Metadata map[string]interface{} `yaml:"metadata"`
}

type cfgDrivers struct {
	Mcp23017 map[int]struct {
		Bus          uint8 `yaml:"bus" default:"1"`
		DeviceNumber uint8 `yaml:"device_number" default:"0"`
	} `yaml:"mcp23017"`
}

type cfgMQTT struct {
	ClientID string `yaml:"client_id" default:"cover2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type cfgEntities struct {
	TopicPrefix string `yaml:"topic_prefix" default:"entities" env:"TOPIC_PREFIX"`
}

var Cfg struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT     cfgMQTT     `yaml:"mqtt" env:"MQTT"`
	HASS     cfgHASS     `yaml:"hass" env:"HASS"`
	Entities cfgEntities `yaml:"entities" env:"ENTITIES"`

	Covers []cfgCover `yaml:"covers"`

	Drivers cfgDrivers `yaml:"drivers"`
}

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "C2M",
})

func loadConfigFromYamlFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		logrus.Error(err)
		return
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		logrus.Fatal(err)
	}
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

type device struct {
	bridge   *mqtt.Bridge
	listener *listener.Listener
}

// devicesFromConfig assembles all configured covers. A cover that fails
// to assemble is skipped with a diagnostic; the rest proceed.
func devicesFromConfig(ctx context.Context, client paho.Client) (devices []*device) {
	source := mqtt.NewEntityStateSource(client, Cfg.Entities.TopicPrefix)

	for _, cfg := range Cfg.Covers {
		d, err := deviceFromConfig(ctx, client, source, cfg)
		if err != nil {
			logrus.Errorf("%s: skipping cover: %s", cfg.Name, err)
			continue
		}
		devices = append(devices, d)
	}

	return devices
}

func deviceFromConfig(ctx context.Context, client paho.Client, source listener.EventSource, cfg cfgCover) (*device, error) {
	if cfg.Name == "" {
		return nil, errors.New("cover has no name")
	}

	c, err := coverFromConfig(ctx, client, cfg)
	if err != nil {
		return nil, err
	}

	l, err := listenerFromConfig(cfg.Listeners)
	if err != nil {
		return nil, err
	}

	bridge, err := mqtt.NewBridge(client, c)
	if err != nil {
		return nil, err
	}
	if cfg.Metadata != nil {
		if err := bridge.SetMetadata(cfg.Metadata); err != nil {
			return nil, err
		}
	}

	if err := l.Attach(source, c.OnExternalOn, c.OnExternalOff); err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		l.Detach()
	}()

	return &device{bridge: bridge, listener: l}, nil
}

const (
	defaultUpOption      = "BO"
	defaultDownOption    = "BI"
	defaultNeutralOption = "None"
	defaultPulseWidthMs  = 100
)

// normalize fills option defaults aconfig cannot reach inside yaml
// slice elements.
func (cfg *cfgActuator) normalize() {
	if cfg.Kind == "" {
		cfg.Kind = "select"
	}
	if cfg.UpOption == "" {
		cfg.UpOption = defaultUpOption
	}
	if cfg.DownOption == "" {
		cfg.DownOption = defaultDownOption
	}
	if cfg.NeutralOption == "" {
		cfg.NeutralOption = defaultNeutralOption
	}
	if cfg.PulseWidthMs == 0 {
		cfg.PulseWidthMs = defaultPulseWidthMs
	}
}

func coverFromConfig(ctx context.Context, client paho.Client, cfg cfgCover) (*timebased.Cover, error) {
	cfg.Actuator.normalize()

	selector, err := selectorFromConfig(ctx, client, cfg.Actuator)
	if err != nil {
		return nil, err
	}

	pulser := pulse.NewPulser(
		selector,
		cfg.Actuator.UpOption,
		cfg.Actuator.DownOption,
		cfg.Actuator.NeutralOption,
		time.Duration(cfg.Actuator.PulseWidthMs)*time.Millisecond,
	)

	travelCalc, err := calculatorFromConfig(cfg.TravelTime)
	if err != nil {
		return nil, errors.Wrap(err, "travel_time")
	}

	var tiltCalc *travel.Calculator
	if cfg.TiltTime != nil {
		tiltCalc, err = calculatorFromConfig(*cfg.TiltTime)
		if err != nil {
			return nil, errors.Wrap(err, "tilt_time")
		}
	}

	return timebased.NewCover(cfg.Name, travelCalc, tiltCalc, pulser), nil
}

func calculatorFromConfig(cfg cfgTravelTime) (*travel.Calculator, error) {
	if cfg.Up <= 0 || cfg.Down <= 0 {
		return nil, errors.Errorf("travel durations must be positive, got up=%v down=%v", cfg.Up, cfg.Down)
	}
	return travel.NewCalculator(
		time.Duration(cfg.Up*float64(time.Second)),
		time.Duration(cfg.Down*float64(time.Second)),
	), nil
}

func listenerFromConfig(cfg cfgListeners) (*listener.Listener, error) {
	if cfg.Triggers != nil {
		return listener.NewTriggerListener(cfg.Triggers.On, cfg.Triggers.Off)
	}

	if len(cfg.Switches) > 0 {
		switches := make([]listener.Switch, 0, len(cfg.Switches))
		for deviceID, sw := range cfg.Switches {
			position := sw.Position
			if position == "" {
				position = string(listener.SwitchPositionLeft)
			}
			switches = append(switches, listener.Switch{
				DeviceID: deviceID,
				Position: listener.SwitchPosition(position),
				Inverted: sw.Inverted,
			})
		}
		return listener.NewSwitchListener(switches)
	}

	return nil, errors.New("no listeners configured")
}

func selectorFromConfig(ctx context.Context, client paho.Client, cfg cfgActuator) (pulse.Selector, error) {
	switch cfg.Kind {
	case "select":
		if !listener.ValidEntityID(cfg.EntityID) {
			return nil, errors.Errorf("actuator entity id %q is not valid", cfg.EntityID)
		}
		return mqtt.NewSelectPublisher(client, Cfg.Entities.TopicPrefix, cfg.EntityID), nil

	case "wired":
		pins := map[string]pulse.SetPin{}
		for option, pinCfg := range cfg.Pins {
			pin, err := pinFromConfig(ctx, pinCfg)
			if err != nil {
				return nil, errors.Wrapf(err, "pin for option %s", option)
			}
			pins[option] = pin
		}
		if len(pins) == 0 {
			return nil, errors.New("wired actuator has no pins")
		}
		return &pulse.Wired{
			Pins:         pins,
			Neutral:      cfg.NeutralOption,
			NormalClosed: cfg.NormalClosed,
		}, nil

	case "dumb":
		return &pulse.Dumb{Name: cfg.Kind}, nil
	}

	return nil, errors.Errorf("%s is not a supported actuator kind", cfg.Kind)
}

func pinFromConfig(ctx context.Context, cfg cfgActuatorPin) (pulse.SetPin, error) {
	switch cfg.Kind {
	case "mcp23017":
		dev, err := mcp23017DeviceByID(ctx, cfg.Mcp23017)
		if err != nil {
			return nil, err
		}
		return pulse.NewMcp23017Pin(dev, cfg.Pin)

	case "gpiod":
		chip := cfg.Chip
		if chip == "" {
			chip = "gpiochip0"
		}
		return pulse.NewGpiodPin(chip, cfg.Offset)
	}

	return nil, errors.Errorf("%s is not a supported pin kind", cfg.Kind)
}

var mcpDevices = map[int]*mcp23017.Device{}

func mcp23017DeviceByID(ctx context.Context, id int) (*mcp23017.Device, error) {
	cfg, found := Cfg.Drivers.Mcp23017[id]
	if !found {
		return nil, errors.Errorf("%d is not a defined drivers.mcp23017 device", id)
	}

	dev := mcpDevices[id]
	if dev == nil {
		var err error
		dev, err = mcp23017.Open(cfg.Bus, cfg.DeviceNumber)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			if err := dev.Close(); err != nil {
				logrus.Errorf("mcp23017: close failed %s", err)
				return
			}

			logrus.Infof("mcp23017: close")
		}()
		if err := dev.Reset(); err != nil {
			return nil, err
		}

		mcpDevices[id] = dev
	}

	return dev, nil
}
