package config

// Normalize fills defaults. It must be called after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Role
	}
	if cfg.TickMs == 0 {
		cfg.TickMs = DefaultTickMs
	}
	for i := range cfg.Links {
		l := &cfg.Links[i]
		if l.Device != "" && l.Baud == 0 {
			l.Baud = DefaultBaud
		}
		if l.Listen != "" && l.Path == "" {
			l.Path = DefaultWebsocketPath
		}
	}
}
