package config

import (
	"time"

	"go.uber.org/zap"
)

// Section accessor methods return snapshot structs. Mutating the returned
// struct does not modify the underlying configuration. Use Manager.Set()
// to update configuration values.
//
// Fields absent from every scope keep the built-in default.

// UIConfig provides type-safe access to UI settings.
type UIConfig struct {
	// Theme is "light", "dark" or "system".
	Theme string `config:"theme"`

	// Language is the interface language code.
	Language string `config:"language"`

	// FontSize is the base font size in points.
	FontSize int `config:"font_size"`

	// Scale is the interface scale factor.
	Scale float64 `config:"scale"`
}

// WindowConfig provides type-safe access to window settings.
type WindowConfig struct {
	Width            int  `config:"width"`
	Height           int  `config:"height"`
	Fullscreen       bool `config:"fullscreen"`
	RememberPosition bool `config:"remember_position"`
}

// AudioConfig provides type-safe access to audio settings.
type AudioConfig struct {
	Enabled bool    `config:"enabled"`
	Volume  float64 `config:"volume"`
}

// UpdatesConfig provides type-safe access to update settings.
type UpdatesConfig struct {
	// Channel is the release channel to follow.
	Channel string `config:"channel"`

	// CheckInterval is how often to look for a new release.
	CheckInterval time.Duration `config:"check_interval"`
}

// UI returns type-safe access to UI settings.
func (m *Manager) UI() UIConfig {
	c := UIConfig{
		Theme:    "system",
		Language: "en",
		FontSize: 14,
		Scale:    1.0,
	}
	m.decodeSection("ui", &c)
	return c
}

// Window returns type-safe access to window settings.
func (m *Manager) Window() WindowConfig {
	c := WindowConfig{
		Width:            1280,
		Height:           800,
		RememberPosition: true,
	}
	m.decodeSection("window", &c)
	return c
}

// Audio returns type-safe access to audio settings.
func (m *Manager) Audio() AudioConfig {
	c := AudioConfig{Enabled: true, Volume: 0.8}
	m.decodeSection("audio", &c)
	return c
}

// Updates returns type-safe access to update settings.
func (m *Manager) Updates() UpdatesConfig {
	c := UpdatesConfig{Channel: "stable", CheckInterval: 24 * time.Hour}
	m.decodeSection("updates", &c)
	return c
}

// decodeSection decodes section over the defaults already in out. A value
// of the wrong type leaves the defaults in place.
func (m *Manager) decodeSection(section string, out any) {
	if _, ok := m.Get(section); !ok {
		return
	}
	if err := m.Decode(section, out); err != nil {
		m.logger.Debug("section decode failed",
			zap.String("section", section),
			zap.Error(err))
	}
}
