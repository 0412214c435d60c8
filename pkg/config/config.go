// Package config describes a node: its role, links and storage.
package config

import (
	"bytes"
	"flag"
	"io/ioutil"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Node roles.
const (
	RoleProbe  = "probe"
	RoleUphole = "uphole"
)

// Defaults applied by Normalize.
const (
	DefaultTickMs        = 10
	DefaultBaud          = 115200
	DefaultWebsocketPath = "/rasp"
)

// Config is the configuration of one node.
type Config struct {
	Role    string        `yaml:"role"`
	Name    string        `yaml:"name"`
	TickMs  int           `yaml:"tick_ms"`
	Links   []LinkConfig  `yaml:"links"`
	Storage StorageConfig `yaml:"storage"`
	Sensor  SensorConfig  `yaml:"sensor"`

	// MQTTURL enables survey telemetry, e.g. mqtt://host:port/topic-prefix
	MQTTURL string `yaml:"mqtt_url"`

	// DefaultPipeLength seeds the config unit when it is created, in
	// tenths of a meter.
	DefaultPipeLength uint16 `yaml:"default_pipe_length"`

	// File is the YAML file the config was read from.
	File string `yaml:"-"`
}

// LinkConfig is one RASP link. A link with neither Device nor Listen is
// attached by the host program.
type LinkConfig struct {
	Name   string `yaml:"name"`
	Client int    `yaml:"client"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
	// Listen serves the link over websocket, e.g. :8080
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
	// Probe marks the link of an uphole node leading to the probe.
	Probe bool `yaml:"probe"`
}

// StorageConfig locates persistent storage. Empty paths keep the
// storage in memory.
type StorageConfig struct {
	PageFile string `yaml:"page_file"`
	Image1   string `yaml:"image1"`
	Image2   string `yaml:"image2"`
}

// SensorConfig parameterizes the simulated sensor of a probe.
type SensorConfig struct {
	Azimuth float64 `yaml:"azimuth"`
	Pitch   float64 `yaml:"pitch"`
	Seed    int64   `yaml:"seed"`
}

// TickInterval returns the loop period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// ProbeLink returns the link leading to the probe, or nil.
func (c *Config) ProbeLink() *LinkConfig {
	for i := range c.Links {
		if c.Links[i].Probe {
			return &c.Links[i]
		}
	}
	return nil
}

// Load reads the YAML file at path. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.File = path
	return cfg, nil
}

// Parse decodes a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var defaultConfig Config

func init() {
	if val := os.Getenv("MWD_CONFIG"); val != "" {
		defaultConfig.File = val
	}
	if val := os.Getenv("MWD_ROLE"); val != "" {
		defaultConfig.Role = val
	}
	if val := os.Getenv("MWD_MQTT_URL"); val != "" {
		defaultConfig.MQTTURL = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.File, "config", defaultConfig.File, "Node config file")
	flag.StringVar(&defaultConfig.Role, "role", defaultConfig.Role, "Node role: probe (default) or uphole")
	flag.StringVar(&defaultConfig.Name, "name", defaultConfig.Name, "Node name")
	flag.StringVar(&defaultConfig.MQTTURL, "mqtt", defaultConfig.MQTTURL, "MQTT broker URL for telemetry")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Links = append([]LinkConfig(nil), defaultConfig.Links...)
	return &conf
}

// Resolve loads the config file if set, lets non-empty flag values
// override it, then validates and normalizes the result.
func (c *Config) Resolve() (*Config, error) {
	dup := *c
	cfg := &dup
	if c.File != "" {
		loaded, err := Load(c.File)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if c.Role != "" {
			cfg.Role = c.Role
		}
		if c.Name != "" {
			cfg.Name = c.Name
		}
		if c.MQTTURL != "" {
			cfg.MQTTURL = c.MQTTURL
		}
	}
	if cfg.Role == "" {
		cfg.Role = RoleProbe
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}
