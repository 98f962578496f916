package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/mstarongithub/tsuki/render"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func emptyXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_DIRS", t.TempDir())
	xdg.Reload()
	t.Cleanup(xdg.Reload)
}

func TestDefaults(t *testing.T) {
	emptyXDG(t)
	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), conf)
	assert.Equal(t, 6*time.Millisecond, conf.RetryDelay())
	assert.Equal(t, 20*time.Millisecond, conf.OpenRetryDelay())
	assert.Equal(t, render.Color{R: 0.1, G: 0.1, B: 0.1, A: 1}, conf.Color())
	assert.Equal(t, logrus.InfoLevel, conf.Level())
}

func TestLoadFile(t *testing.T) {
	emptyXDG(t)
	path := writeConfig(t, t.TempDir(), `
start_type = 1
start_command = "foot"
seat = "seat1"
primary_gpu = "/dev/dri/card1"
connectors = ["eDP", "HDMI-A"]
open_attempts = 5
clear_color = [0.0, 0.5, 1.0, 1.0]
log_level = "debug"
`)
	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, START_SINGLE_COMMAND, conf.StartType)
	require.NotNil(t, conf.StartCommand)
	assert.Equal(t, "foot", *conf.StartCommand)
	assert.Equal(t, "seat1", conf.Seat)
	assert.Equal(t, "/dev/dri/card1", conf.PrimaryGPU)
	assert.Equal(t, []string{"eDP", "HDMI-A"}, conf.Connectors)
	assert.Equal(t, 5, conf.OpenAttempts)
	assert.Equal(t, render.Color{R: 0, G: 0.5, B: 1, A: 1}, conf.Color())
	assert.Equal(t, logrus.DebugLevel, conf.Level())
	// Untouched keys keep their defaults
	assert.Equal(t, "weston-terminal", conf.DefaultClient)
	assert.Equal(t, 6, conf.RetryDelayMs)
}

func TestSearchesXDG(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "tsuki"), 0o755))
	writeConfig(t, filepath.Join(home, "tsuki"), `seat = "seat9"`)
	t.Setenv("XDG_CONFIG_HOME", home)
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "seat9", conf.Seat)
}

func TestEnvironmentOverrides(t *testing.T) {
	emptyXDG(t)
	path := writeConfig(t, t.TempDir(), `seat = "seat1"`)
	t.Setenv("TSUKI_SEAT", "seat2")
	t.Setenv("TSUKI_CONNECTORS", "*")
	t.Setenv("TSUKI_RETRY_DELAY_MS", "10")

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "seat2", conf.Seat)
	assert.Equal(t, []string{"*"}, conf.Connectors)
	assert.Equal(t, 10*time.Millisecond, conf.RetryDelay())
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBrokenFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `seat = `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"short colour":   func(c *Config) { c.ClearColor = []float64{1, 1} },
		"colour too big": func(c *Config) { c.ClearColor = []float64{2, 0, 0, 1} },
		"no attempts":    func(c *Config) { c.OpenAttempts = 0 },
		"negative delay": func(c *Config) { c.RetryDelayMs = -1 },
		"bad start type": func(c *Config) { c.StartType = 7 },
		"bad log level":  func(c *Config) { c.LogLevel = "loud" },
	} {
		t.Run(name, func(t *testing.T) {
			conf := Default()
			mutate(conf)
			assert.ErrorIs(t, conf.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, Default().Validate())
}
