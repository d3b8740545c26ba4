// Package config loads the controller's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/kiln-controller/internal/control"
	"github.com/sweeney/kiln-controller/internal/gpio"
	"github.com/sweeney/kiln-controller/internal/mqtt"
	"github.com/sweeney/kiln-controller/internal/notify"
	"github.com/sweeney/kiln-controller/internal/sensor"
)

// Sensor drivers.
const (
	DriverMAX31855 = "max31855"
	DriverSim      = "sim"
)

// Preset store drivers.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
)

// Config represents the complete controller configuration.
type Config struct {
	Tick    time.Duration `yaml:"tick"` // control period, also the PID dt
	Unit    string        `yaml:"unit"` // C or F
	Sensor  SensorConfig  `yaml:"sensor"`
	Relay   RelayConfig   `yaml:"relay"`
	PID     PIDConfig     `yaml:"pid"`
	Fault   FaultConfig   `yaml:"fault"`
	Notify  NotifyConfig  `yaml:"notify"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Audit   AuditConfig   `yaml:"audit"`
	Presets PresetsConfig `yaml:"presets"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// SensorConfig selects the thermocouple driver and plausible range.
// Min, Max and Default are always in °C, whatever Unit says.
type SensorConfig struct {
	Driver  string  `yaml:"driver"` // max31855, sim
	CS      int     `yaml:"cs"`
	CLK     int     `yaml:"clk"`
	DO      int     `yaml:"do"`
	Min     float64 `yaml:"min"`     // readings below are faults
	Max     float64 `yaml:"max"`     // readings above are faults
	Default float64 `yaml:"default"` // last known good before the first reading

	// SimFaultEvery makes every Nth simulated read fail (sim driver only).
	SimFaultEvery int `yaml:"sim_fault_every"`
}

// RelayConfig contains the heater relay output line.
type RelayConfig struct {
	Pin       int  `yaml:"pin"`
	ActiveLow bool `yaml:"active_low"`
}

// PIDConfig contains controller gains and output bounds.
type PIDConfig struct {
	Kp     float64 `yaml:"kp"`
	Ki     float64 `yaml:"ki"`
	Kd     float64 `yaml:"kd"`
	OutMin float64 `yaml:"out_min"`
	OutMax float64 `yaml:"out_max"`
}

// FaultConfig is the sensor retry policy. SuppressAbove is in °C.
type FaultConfig struct {
	SuppressAbove float64       `yaml:"suppress_above"` // 0 disables suppression
	RetryDelay    time.Duration `yaml:"retry_delay"`    // 0 uses the tick period
	MaxAttempts   int           `yaml:"max_attempts"`   // 0 retries until a valid reading
}

// NotifyConfig contains notification cadences and sinks.
type NotifyConfig struct {
	Name           string        `yaml:"name"`
	StatusInterval time.Duration `yaml:"status_interval"` // 0 disables status messages
	FaultInterval  time.Duration `yaml:"fault_interval"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	MQTT           bool          `yaml:"mqtt"` // also publish notifications to MQTT
	QueueSize      int           `yaml:"queue_size"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker     string     `yaml:"broker"`
	ClientID   string     `yaml:"client_id"`
	Topics     MQTTTopics `yaml:"topics"`
	BufferSize int        `yaml:"buffer_size"`
}

// MQTTTopics contains topic names.
type MQTTTopics struct {
	Ticks  string `yaml:"ticks"`
	System string `yaml:"system"`
	Notify string `yaml:"notify"`
}

// AuditConfig locates the per-firing CSV logs.
type AuditConfig struct {
	Dir string `yaml:"dir"`
}

// PresetsConfig selects the profile store.
type PresetsConfig struct {
	Driver string      `yaml:"driver"` // file, redis
	Dir    string      `yaml:"dir"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings for the profile store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// HTTPConfig contains the control surface address. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // also write logs here when set
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Tick: time.Second,
		Unit: string(sensor.Celsius),
		Sensor: SensorConfig{
			Driver:  DriverMAX31855,
			CS:      gpio.DefaultPinCS,
			CLK:     gpio.DefaultPinCLK,
			DO:      gpio.DefaultPinDO,
			Min:     -50,
			Max:     1400,
			Default: 20,
		},
		Relay: RelayConfig{Pin: gpio.DefaultPinRelay},
		PID:   PIDConfig{Kp: 0.05, Ki: 0.0002, Kd: 0.5, OutMin: 0, OutMax: 1},
		Fault: FaultConfig{SuppressAbove: 700},
		Notify: NotifyConfig{
			Name:           "kiln",
			StatusInterval: 30 * time.Minute,
			FaultInterval:  5 * time.Minute,
			WebhookTimeout: 10 * time.Second,
			QueueSize:      16,
		},
		MQTT: MQTTConfig{
			ClientID: "kiln-controller",
			Topics: MQTTTopics{
				Ticks:  mqtt.TopicTicks,
				System: mqtt.TopicSystem,
				Notify: mqtt.TopicNotify,
			},
			BufferSize: mqtt.DefaultBufferSize,
		},
		Audit: AuditConfig{Dir: "firings"},
		Presets: PresetsConfig{
			Driver: StoreFile,
			Dir:    "presets",
			Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "kiln:"},
		},
		HTTP: HTTPConfig{Addr: ":5000"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read reads a YAML file over the defaults without validating, so callers can
// apply overrides first. An empty path returns the defaults.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document does not set.
// Unknown keys are rejected so typos do not silently fall back to defaults.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Tick <= 0 {
		add("tick must be > 0")
	}
	if !sensor.Unit(c.Unit).Valid() {
		add("unit must be C or F, got %q", c.Unit)
	}

	switch c.Sensor.Driver {
	case DriverMAX31855:
		pins := map[string]int{"sensor.cs": c.Sensor.CS, "sensor.clk": c.Sensor.CLK, "sensor.do": c.Sensor.DO, "relay.pin": c.Relay.Pin}
		seen := map[int]string{}
		for _, name := range []string{"sensor.cs", "sensor.clk", "sensor.do", "relay.pin"} {
			pin := pins[name]
			if pin < 0 && name != "relay.pin" {
				add("%s must be >= 0", name)
			}
			if other, dup := seen[pin]; dup {
				add("%s and %s share pin %d", name, other, pin)
			}
			seen[pin] = name
		}
	case DriverSim:
		if c.Sensor.SimFaultEvery < 0 {
			add("sensor.sim_fault_every must be >= 0")
		}
	default:
		add("sensor.driver must be %s or %s, got %q", DriverMAX31855, DriverSim, c.Sensor.Driver)
	}
	if c.Relay.Pin < 0 {
		add("relay.pin must be >= 0")
	}
	if !(c.Sensor.Min < c.Sensor.Max) {
		add("sensor.min must be below sensor.max")
	}

	if err := c.Gains().Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Fault.SuppressAbove < 0 || math.IsNaN(c.Fault.SuppressAbove) {
		add("fault.suppress_above must be >= 0")
	}
	if c.Fault.RetryDelay < 0 {
		add("fault.retry_delay must be >= 0")
	}
	if c.Fault.MaxAttempts < 0 {
		add("fault.max_attempts must be >= 0")
	}

	if c.Notify.FaultInterval <= 0 {
		add("notify.fault_interval must be > 0")
	}
	if c.Notify.StatusInterval < 0 {
		add("notify.status_interval must be >= 0")
	}
	if c.Notify.WebhookURL != "" && c.Notify.WebhookTimeout <= 0 {
		add("notify.webhook_timeout must be > 0")
	}
	if c.Notify.MQTT && c.MQTT.Broker == "" {
		add("notify.mqtt requires mqtt.broker")
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.Topics.Ticks == "" || c.MQTT.Topics.System == "" || c.MQTT.Topics.Notify == "" {
			add("mqtt.topics must all be set")
		}
	}

	if c.Audit.Dir == "" {
		add("audit.dir is required")
	}

	switch c.Presets.Driver {
	case StoreFile:
		if c.Presets.Dir == "" {
			add("presets.dir is required for the file store")
		}
	case StoreRedis:
		if c.Presets.Redis.Addr == "" {
			add("presets.redis.addr is required for the redis store")
		}
	default:
		add("presets.driver must be %s or %s, got %q", StoreFile, StoreRedis, c.Presets.Driver)
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Gains returns the PID configuration.
func (c *Config) Gains() control.Gains {
	return control.Gains{Kp: c.PID.Kp, Ki: c.PID.Ki, Kd: c.PID.Kd, OutMin: c.PID.OutMin, OutMax: c.PID.OutMax}
}

// SensorConfig returns the reader configuration in the configured unit. The
// reader sees converted readings, so the range, default and threshold are
// converted with them.
func (c *Config) SensorConfig() sensor.Config {
	delay := c.Fault.RetryDelay
	if delay == 0 {
		delay = c.Tick
	}
	return sensor.Config{
		Policy: sensor.RetryPolicy{
			SuppressAbove: c.SuppressAbove(),
			Delay:         delay,
			MaxAttempts:   c.Fault.MaxAttempts,
		},
		Min:     c.unit().FromCelsius(c.Sensor.Min),
		Max:     c.unit().FromCelsius(c.Sensor.Max),
		Default: c.unit().FromCelsius(c.Sensor.Default),
	}
}

// SuppressAbove returns the suppression threshold in the configured unit.
// Zero stays zero: suppression is disabled in every unit.
func (c *Config) SuppressAbove() float64 {
	if c.Fault.SuppressAbove == 0 {
		return 0
	}
	return c.unit().FromCelsius(c.Fault.SuppressAbove)
}

func (c *Config) unit() sensor.Unit { return sensor.Unit(c.Unit) }

// NotifyConfig returns the notifier cadences.
func (c *Config) NotifyConfig() notify.Config {
	return notify.Config{
		Name:           c.Notify.Name,
		StatusInterval: c.Notify.StatusInterval,
		FaultInterval:  c.Notify.FaultInterval,
		Unit:           sensor.Unit(c.Unit),
	}
}

// Topics returns the MQTT topic names.
func (c *Config) Topics() mqtt.Topics {
	return mqtt.Topics{Ticks: c.MQTT.Topics.Ticks, System: c.MQTT.Topics.System, Notify: c.MQTT.Topics.Notify}
}

// Pins returns the thermocouple lines.
func (c *Config) Pins() gpio.ThermocouplePins {
	return gpio.ThermocouplePins{CS: c.Sensor.CS, CLK: c.Sensor.CLK, DO: c.Sensor.DO}
}

// LogLevel parses log.level.
func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
