package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"knobd/rotary"
)

// Config is the top-level YAML configuration for the knobd daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. Precedence is defaults, then file, then environment,
// then flags.
type Config struct {
	Knobs   []KnobConfig  `yaml:"knobs"`
	GPIO    GPIOConfig    `yaml:"gpio"`
	IPC     IPCConfig     `yaml:"ipc"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// Knob sources.
const (
	SourceGPIO   = "gpio"
	SourceSerial = "serial"
	SourceNone   = "none" // driven only through IPC
)

// KnobConfig describes one encoder. Min, Max and Step are pointers so an
// omitted key falls back to rotary.DefaultConfig instead of zero.
type KnobConfig struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`

	// gpio source: A is CLK, B is DT.
	PinA      int  `yaml:"pin_a"`
	PinB      int  `yaml:"pin_b"`
	ActiveLow bool `yaml:"active_low"`

	// serial source
	Serial SerialConfig `yaml:"serial"`

	Min      *int             `yaml:"min"`
	Max      *int             `yaml:"max"`
	Step     *int             `yaml:"step"`
	Reverse  bool             `yaml:"reverse"`
	Range    rotary.RangeMode `yaml:"range"`
	HalfStep bool             `yaml:"half_step"`
	Invert   bool             `yaml:"invert"`

	// Initial is the starting value; Min when omitted.
	Initial *int `yaml:"initial"`
}

type SerialConfig struct {
	Device        string `yaml:"device"`
	Baud          int    `yaml:"baud"`
	ReadTimeoutMS int    `yaml:"read_timeout_ms"`
}

type GPIOConfig struct {
	// Root overrides the sysfs GPIO class directory.
	Root string `yaml:"root"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Addr        string `yaml:"addr"`
	WSPath      string `yaml:"ws_path"`
	MetricsPath string `yaml:"metrics_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Rotary returns the tracker configuration for this knob.
func (k KnobConfig) Rotary() rotary.Config {
	cfg := rotary.DefaultConfig()
	if k.Min != nil {
		cfg.Min = *k.Min
	}
	if k.Max != nil {
		cfg.Max = *k.Max
	}
	if k.Step != nil {
		cfg.Step = *k.Step
	}
	cfg.Reverse = k.Reverse
	cfg.Range = k.Range
	cfg.HalfStep = k.HalfStep
	cfg.Invert = k.Invert
	return cfg
}

func (k KnobConfig) source() string {
	if k.Source == "" {
		return SourceGPIO
	}
	return strings.ToLower(k.Source)
}

// DefaultConfig returns a fully-populated Config with defaults: the two
// clamped knobs of a calculator ring wired to GPIO.
func DefaultConfig() Config {
	return Config{
		Knobs: []KnobConfig{
			{
				Name:   "left",
				Source: SourceGPIO,
				PinA:   22,
				PinB:   21,
				Min:    rotary.Ptr(1),
				Max:    rotary.Ptr(20),
				Step:   rotary.Ptr(1),
				Range:  rotary.RangeClamp,
			},
			{
				Name:   "right",
				Source: SourceGPIO,
				PinA:   27,
				PinB:   26,
				Min:    rotary.Ptr(0),
				Max:    rotary.Ptr(6),
				Step:   rotary.Ptr(1),
				Range:  rotary.RangeClamp,
			},
		},
		GPIO: GPIOConfig{Root: defaultGPIORoot},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocket,
		},
		HTTP: HTTPConfig{
			Addr:        defaultHTTPAddr,
			WSPath:      defaultWSPath,
			MetricsPath: defaultMetricsPath,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected via KnownFields(true). A knobs list in the file
// replaces the default knobs entirely.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil // empty file
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
	case err != nil:
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	default:
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// EnvOverrides are read from KNOBD_* environment variables. A nil pointer
// means the variable was not set.
type EnvOverrides struct {
	ConfigPath string  `env:"KNOBD_CONFIG"`
	LogLevel   *string `env:"KNOBD_LOG_LEVEL"`
	IPCSocket  *string `env:"KNOBD_IPC_SOCKET"`
	HTTPAddr   *string `env:"KNOBD_HTTP_ADDR"`
	GPIORoot   *string `env:"KNOBD_GPIO_ROOT"`
}

// ParseEnvOverrides reads overrides from environ, or from the process
// environment when environ is nil.
func ParseEnvOverrides(environ map[string]string) (EnvOverrides, error) {
	var o EnvOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}

// Apply merges the environment overrides into cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	FlagOverrides{
		LogLevel:      o.LogLevel,
		IPCSocketPath: o.IPCSocket,
		HTTPAddr:      o.HTTPAddr,
		GPIORoot:      o.GPIORoot,
	}.Apply(cfg)
}

// FlagOverrides holds command-line overrides. Each override is applied only if
// its pointer is non-nil, even when it points at a zero value.
type FlagOverrides struct {
	LogLevel      *string
	IPCSocketPath *string
	HTTPAddr      *string
	GPIORoot      *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.GPIORoot != nil {
		cfg.GPIO.Root = *o.GPIORoot
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if len(c.Knobs) == 0 {
		return errors.New("knobs must not be empty")
	}

	seen := make(map[string]int, len(c.Knobs))
	for i := range c.Knobs {
		k := &c.Knobs[i]
		if k.Name == "" {
			return fmt.Errorf("knobs[%d].name must not be empty", i)
		}
		if j, dup := seen[k.Name]; dup {
			return fmt.Errorf("knobs[%d].name %q duplicates knobs[%d]", i, k.Name, j)
		}
		seen[k.Name] = i

		switch k.source() {
		case SourceGPIO:
			if k.PinA < 0 || k.PinB < 0 {
				return fmt.Errorf("knobs[%d] (%s): pin_a and pin_b must be >= 0", i, k.Name)
			}
			if k.PinA == k.PinB {
				return fmt.Errorf("knobs[%d] (%s): pin_a and pin_b must differ", i, k.Name)
			}
		case SourceSerial:
			if k.Serial.Device == "" {
				return fmt.Errorf("knobs[%d] (%s): serial.device must not be empty", i, k.Name)
			}
			if k.Serial.Baud < 0 {
				return fmt.Errorf("knobs[%d] (%s): serial.baud must be >= 0", i, k.Name)
			}
			if k.Serial.ReadTimeoutMS < 0 {
				return fmt.Errorf("knobs[%d] (%s): serial.read_timeout_ms must be >= 0", i, k.Name)
			}
		case SourceNone:
		default:
			return fmt.Errorf("knobs[%d] (%s): source must be %q, %q or %q", i, k.Name, SourceGPIO, SourceSerial, SourceNone)
		}

		if err := k.Rotary().Validate(); err != nil {
			return fmt.Errorf("knobs[%d] (%s): %w", i, k.Name, err)
		}
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.HTTP.Addr != "" {
		if !strings.HasPrefix(c.HTTP.WSPath, "/") {
			return errors.New("http.ws_path must start with /")
		}
		if !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
			return errors.New("http.metrics_path must start with /")
		}
		if c.HTTP.WSPath == c.HTTP.MetricsPath {
			return errors.New("http.ws_path and http.metrics_path must differ")
		}
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
