package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration without changing it.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is missing")
	}
	switch cfg.Role {
	case RoleProbe, RoleUphole:
	default:
		return fmt.Errorf("role must be %q or %q, got %q", RoleProbe, RoleUphole, cfg.Role)
	}
	if cfg.TickMs < 0 {
		return fmt.Errorf("tick_ms must not be negative")
	}

	names := make(map[string]bool)
	probes := 0
	for i, l := range cfg.Links {
		if l.Name == "" {
			return fmt.Errorf("link %d: name is required", i)
		}
		if names[l.Name] {
			return fmt.Errorf("link %q: duplicated name", l.Name)
		}
		names[l.Name] = true
		if l.Device != "" && l.Listen != "" {
			return fmt.Errorf("link %q: device and listen are exclusive", l.Name)
		}
		if l.Baud < 0 {
			return fmt.Errorf("link %q: invalid baud %d", l.Name, l.Baud)
		}
		if l.Client < 0 || l.Client > 255 {
			return fmt.Errorf("link %q: client id out of range", l.Name)
		}
		if l.Probe {
			probes++
		}
	}
	if probes > 0 && cfg.Role != RoleUphole {
		return fmt.Errorf("only an uphole node has a probe link")
	}
	if probes > 1 {
		return fmt.Errorf("at most one probe link is allowed")
	}

	if cfg.MQTTURL != "" {
		u, err := url.Parse(cfg.MQTTURL)
		if err != nil {
			return fmt.Errorf("invalid mqtt_url: %v", err)
		}
		switch u.Scheme {
		case "mqtt", "tcp", "ssl", "ws", "wss":
		default:
			return fmt.Errorf("mqtt_url: unsupported scheme %q", u.Scheme)
		}
	}

	if cfg.Storage.Image1 != "" && cfg.Storage.Image1 == cfg.Storage.Image2 {
		return fmt.Errorf("storage: image1 and image2 must be different files")
	}
	if cfg.Sensor.Pitch < -90 || cfg.Sensor.Pitch > 90 {
		return fmt.Errorf("sensor: pitch out of range")
	}
	return nil
}
