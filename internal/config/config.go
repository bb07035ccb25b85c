package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/RollGo/internal/hw/camera"
	"github.com/cjeanneret/RollGo/internal/logic/rolling"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// EnvPrefix prefixes every environment override, e.g. ROLLGO_CAPTURE_INTERVAL_MS.
const EnvPrefix = "ROLLGO_"

// CameraConfig describes the capture device.
// Type selects a concrete implementation (e.g., "v4l2").
type CameraConfig struct {
	Type           string `yaml:"type" env:"TYPE"`                         // synthetic, v4l2 or nikon_d90_gpio
	Device         string `yaml:"device" env:"DEVICE"`                     // v4l2 device node
	Width          int    `yaml:"width" env:"WIDTH"`                       // frame width (px)
	Height         int    `yaml:"height" env:"HEIGHT"`                     // frame height (px)
	FocusPin       int    `yaml:"focus_pin" env:"FOCUS_PIN"`               // GPIO pin for FOCUS line
	ShutterPin     int    `yaml:"shutter_pin" env:"SHUTTER_PIN"`           // GPIO pin for SHUTTER line
	FocusDelayMs   int    `yaml:"focus_delay_ms" env:"FOCUS_DELAY_MS"`     // autofocus delay (ms)
	ShutterDelayMs int    `yaml:"shutter_delay_ms" env:"SHUTTER_DELAY_MS"` // shutter hold time (ms)
	ReadTimeoutMs  int    `yaml:"read_timeout_ms" env:"READ_TIMEOUT_MS"`   // v4l2 frame wait (ms)
}

// CaptureConfig drives the rolling controller.
type CaptureConfig struct {
	IntervalMs  int    `yaml:"interval_ms" env:"INTERVAL_MS"`
	Persist     bool   `yaml:"persist" env:"PERSIST"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH"`
	CatalogPath string `yaml:"catalog_path" env:"CATALOG_PATH"` // optional sqlite index
}

// MQTTConfig configures the optional MQTT publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Broker      string `yaml:"broker" env:"BROKER"`
	ClientID    string `yaml:"client_id" env:"CLIENT_ID"`
	Username    string `yaml:"username" env:"USERNAME"`
	Password    string `yaml:"password" env:"PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	QoS         int    `yaml:"qos" env:"QOS"`
}

// DefaultsConfig contains process-wide parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level" env:"DEBUG_LEVEL"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio" env:"MOCK_GPIO"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera" envPrefix:"CAMERA_"`
	Capture  CaptureConfig  `yaml:"capture" envPrefix:"CAPTURE_"`
	MQTT     MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	Defaults DefaultsConfig `yaml:"defaults" envPrefix:"DEFAULTS_"`
}

// Load reads a YAML file, applies ROLLGO_* environment overrides and
// defaults, then validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with any ROLLGO_* variable that is set.
// Unset variables leave the loaded value untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Camera.Width <= 0 {
		c.Camera.Width = 1280
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = 720
	}
	if c.Camera.Type == camera.TypeV4L2 && c.Camera.Device == "" {
		c.Camera.Device = "/dev/video0"
	}
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if c.Camera.ShutterDelayMs <= 0 {
		c.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if c.Camera.ReadTimeoutMs <= 0 {
		c.Camera.ReadTimeoutMs = 2000
	}
	if c.Capture.IntervalMs <= 0 {
		c.Capture.IntervalMs = int(rolling.DefaultInterval / time.Millisecond)
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "rollgo"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "rollgo"
	}
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if c.Camera.Type == "" {
		return errors.New("camera.type is required")
	}
	if !camera.KnownType(c.Camera.Type) {
		return fmt.Errorf("camera.type %q is not one of %s", c.Camera.Type, strings.Join(camera.Types, ", "))
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera size must be > 0, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Capture.IntervalMs <= 0 {
		return fmt.Errorf("capture.interval_ms must be > 0, got %d", c.Capture.IntervalMs)
	}
	if c.Capture.Persist && strings.TrimSpace(c.Capture.StoragePath) == "" {
		return errors.New("capture.storage_path is required when capture.persist is true")
	}
	if c.Capture.Persist && c.Camera.Type == camera.TypeNikonD90GPIO {
		return fmt.Errorf("capture.persist needs image data, camera.type %q only triggers the shutter", c.Camera.Type)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt.enabled is true")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be between 0 and 2, got %d", c.MQTT.QoS)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ValidateConfigPath accepts only .yaml files directly inside a "configs"
// directory, and rejects any path containing "..".
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Rolling returns the controller configuration.
func (c *Config) Rolling() rolling.Config {
	return rolling.Config{
		Width:       c.Camera.Width,
		Height:      c.Camera.Height,
		StoragePath: c.Capture.StoragePath,
		Persist:     c.Capture.Persist,
		Interval:    c.Interval(),
	}
}

// CameraOptions returns the device options; the GPIO driver is left to the caller.
func (c *Config) CameraOptions() camera.Options {
	return camera.Options{
		Type:         c.Camera.Type,
		Width:        c.Camera.Width,
		Height:       c.Camera.Height,
		Path:         c.Camera.Device,
		ReadTimeout:  c.ReadTimeout(),
		FocusPin:     c.Camera.FocusPin,
		ShutterPin:   c.Camera.ShutterPin,
		FocusDelay:   c.FocusDelay(),
		ShutterDelay: c.ShutterDelay(),
	}
}

// Interval returns the time between two capture ticks.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Capture.IntervalMs) * time.Millisecond
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// ReadTimeout returns how long a v4l2 capture waits for a frame.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Camera.ReadTimeoutMs) * time.Millisecond
}
