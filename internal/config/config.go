package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding file values,
// e.g. ZPHOCUS_DEVICE_URL overrides device.url.
const EnvPrefix = "ZPHOCUS_"

// DeviceConfig describes the focuser control endpoint.
type DeviceConfig struct {
	URL       string `yaml:"url" koanf:"url"`               // base URL, commands are appended to it
	TimeoutMs int    `yaml:"timeout_ms" koanf:"timeout_ms"` // client-side request timeout
}

// PollConfig holds the status poller cadence.
type PollConfig struct {
	IntervalMs int `yaml:"interval_ms" koanf:"interval_ms"`
}

// FocusConfig holds the focus bounds used until the device reports its own.
type FocusConfig struct {
	Min     float64 `yaml:"min" koanf:"min"`
	Max     float64 `yaml:"max" koanf:"max"`
	Initial float64 `yaml:"initial" koanf:"initial"` // value shown in the input before the first poll
}

// SpeedConfig holds the jog speed tiers (raw device units).
type SpeedConfig struct {
	Tiers       []int `yaml:"tiers" koanf:"tiers"`
	DefaultTier int   `yaml:"default_tier" koanf:"default_tier"`
}

// WebConfig holds panel server settings.
type WebConfig struct {
	CommandRate  float64 `yaml:"command_rate" koanf:"command_rate"`   // intents per second per client
	CommandBurst int     `yaml:"command_burst" koanf:"command_burst"` // burst size of the limiter
}

// PaddleConfig describes the optional hand controller wired to GPIO inputs.
// Buttons are active LOW with internal pull-ups. Pin 0 = not used.
type PaddleConfig struct {
	Enabled     bool `yaml:"enabled" koanf:"enabled"`
	JogPlusPin  int  `yaml:"jog_plus_pin" koanf:"jog_plus_pin"`
	JogMinusPin int  `yaml:"jog_minus_pin" koanf:"jog_minus_pin"`
	StopPin     int  `yaml:"stop_pin" koanf:"stop_pin"`
	PollMs      int  `yaml:"poll_ms" koanf:"poll_ms"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level" koanf:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio" koanf:"mock_gpio"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device" koanf:"device"`
	Poll     PollConfig     `yaml:"poll" koanf:"poll"`
	Focus    FocusConfig    `yaml:"focus" koanf:"focus"`
	Speed    SpeedConfig    `yaml:"speed" koanf:"speed"`
	Web      WebConfig      `yaml:"web" koanf:"web"`
	Paddle   PaddleConfig   `yaml:"paddle" koanf:"paddle"`
	Defaults DefaultsConfig `yaml:"defaults" koanf:"defaults"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			URL:       "http://localhost:4444/",
			TimeoutMs: 3000,
		},
		Poll:  PollConfig{IntervalMs: 1000},
		Focus: FocusConfig{Min: 0.01, Max: 76.5, Initial: 3.0},
		Speed: SpeedConfig{
			Tiers:       []int{130, 400, 800, 1200},
			DefaultTier: 1,
		},
		Web: WebConfig{CommandRate: 10, CommandBurst: 5},
		Paddle: PaddleConfig{
			PollMs: 20,
		},
		Defaults: DefaultsConfig{DebugLevel: 1, MockGPIO: true},
	}
}

// Load layers the built-in defaults, the YAML file at path and ZPHOCUS_*
// environment variables, then validates the result.
// A missing file is not an error: defaults are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		} else if err == nil {
			if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps ZPHOCUS_DEVICE_TIMEOUT_MS to device.timeout_ms: the first
// underscore separates the section, the rest belong to the key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate checks the configuration. It does not mutate it.
func Validate(cfg *Config) error {
	if cfg.Device.URL == "" {
		return fmt.Errorf("device.url is required")
	}
	if !strings.HasPrefix(cfg.Device.URL, "http://") && !strings.HasPrefix(cfg.Device.URL, "https://") {
		return fmt.Errorf("device.url must be an http(s) URL, got %q", cfg.Device.URL)
	}
	if cfg.Device.TimeoutMs <= 0 {
		return fmt.Errorf("device.timeout_ms must be > 0, got %d", cfg.Device.TimeoutMs)
	}
	if cfg.Poll.IntervalMs <= 0 {
		return fmt.Errorf("poll.interval_ms must be > 0, got %d", cfg.Poll.IntervalMs)
	}
	if len(cfg.Speed.Tiers) != 4 {
		return fmt.Errorf("speed.tiers must hold exactly 4 values, got %d", len(cfg.Speed.Tiers))
	}
	if cfg.Speed.DefaultTier < 1 || cfg.Speed.DefaultTier > 4 {
		return fmt.Errorf("speed.default_tier must be between 1 and 4, got %d", cfg.Speed.DefaultTier)
	}
	if cfg.Web.CommandRate <= 0 {
		return fmt.Errorf("web.command_rate must be > 0, got %g", cfg.Web.CommandRate)
	}
	if cfg.Web.CommandBurst < 1 {
		return fmt.Errorf("web.command_burst must be >= 1, got %d", cfg.Web.CommandBurst)
	}
	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	if cfg.Paddle.Enabled {
		if cfg.Paddle.JogPlusPin <= 0 && cfg.Paddle.JogMinusPin <= 0 && cfg.Paddle.StopPin <= 0 {
			return fmt.Errorf("paddle is enabled but no pin is configured")
		}
		if cfg.Paddle.PollMs <= 0 {
			return fmt.Errorf("paddle.poll_ms must be > 0, got %d", cfg.Paddle.PollMs)
		}
	}
	return nil
}

// Dump writes the configuration as YAML.
func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// RequestTimeout returns the client-side device request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Device.TimeoutMs) * time.Millisecond
}

// PollInterval returns the delay between two poll ticks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// PaddlePoll returns the hand controller sampling period.
func (c *Config) PaddlePoll() time.Duration {
	return time.Duration(c.Paddle.PollMs) * time.Millisecond
}

// SpeedTiers returns the configured jog speeds as a fixed array.
func (c *Config) SpeedTiers() [4]int {
	var t [4]int
	copy(t[:], c.Speed.Tiers)
	return t
}
