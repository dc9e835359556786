package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/strata/internal/config/layer"
)

func TestManager_TypedGetters(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.SetIn(layer.ScopeUser, "ui", map[string]any{
		"theme":     "dark",
		"font_size": 14,
		"scale":     1.25,
		"compact":   true,
		"fonts":     []string{"Inter", "Noto"},
	}))

	s, err := m.GetString("ui.theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", s)

	n, err := m.GetInt("ui.font_size")
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	f, err := m.GetFloat("ui.scale")
	require.NoError(t, err)
	assert.Equal(t, 1.25, f)

	b, err := m.GetBool("ui.compact")
	require.NoError(t, err)
	assert.True(t, b)

	list, err := m.GetStringSlice("ui.fonts")
	require.NoError(t, err)
	assert.Equal(t, []string{"Inter", "Noto"}, list)
}

func TestManager_TypedGetterErrors(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.SetIn(layer.ScopeUser, "ui", map[string]any{
		"theme": "dark",
		"scale": 1.25,
		"mixed": []any{"a", 1},
	}))

	_, err := m.GetString("ui.missing")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	_, err = m.GetInt("ui.theme")
	require.ErrorIs(t, err, ErrTypeMismatch)
	var te *TypeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "ui.theme", te.Path)
	assert.Equal(t, "int", te.Expected)

	_, err = m.GetInt("ui.scale")
	assert.ErrorIs(t, err, ErrTypeMismatch, "fractional numbers are not ints")

	_, err = m.GetBool("ui.theme")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = m.GetStringSlice("ui.mixed")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestManager_Decode(t *testing.T) {
	type window struct {
		Width      int  `config:"width"`
		Height     int  `config:"height"`
		Fullscreen bool `config:"fullscreen"`
	}
	type settings struct {
		Window  window `config:"window"`
		Updates struct {
			CheckInterval time.Duration `config:"check_interval"`
		} `config:"updates"`
	}

	m := newTestManager(t)
	require.NoError(t, m.SetIn(layer.ScopeGlobal, "window", map[string]any{"width": 1280, "height": 800}))
	require.NoError(t, m.SetIn(layer.ScopeUser, "window.width", 1920))
	require.NoError(t, m.SetIn(layer.ScopeUser, "updates.check_interval", "90m"))

	var w window
	require.NoError(t, m.Decode("window", &w))
	assert.Equal(t, window{Width: 1920, Height: 800}, w)

	var all settings
	require.NoError(t, m.Decode("", &all))
	assert.Equal(t, 1920, all.Window.Width)
	assert.Equal(t, 90*time.Minute, all.Updates.CheckInterval)

	assert.ErrorIs(t, m.Decode("audio", &w), ErrSettingNotFound)
}

func TestManager_Sections(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, UIConfig{Theme: "system", Language: "en", FontSize: 14, Scale: 1.0}, m.UI())
	assert.Equal(t, 24*time.Hour, m.Updates().CheckInterval)

	require.NoError(t, m.SetIn(layer.ScopeUser, "window.fullscreen", true))
	require.NoError(t, m.SetIn(layer.ScopeSession, "audio.volume", 0.3))
	require.NoError(t, m.SetIn(layer.ScopeUser, "updates.check_interval", "1h"))

	w := m.Window()
	assert.True(t, w.Fullscreen)
	assert.Equal(t, 1280, w.Width)
	assert.True(t, w.RememberPosition)

	a := m.Audio()
	assert.True(t, a.Enabled)
	assert.Equal(t, 0.3, a.Volume)
	assert.Equal(t, time.Hour, m.Updates().CheckInterval)
}
