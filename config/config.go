// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adrg/xdg"
	"github.com/kelseyhightower/envconfig"
	"github.com/mstarongithub/tsuki/render"
	"github.com/pelletier/go-toml"
	"github.com/sirupsen/logrus"
)

type StartType int

const (
	// Tells tsuki to start a repl in parallel for interacting with it
	START_REPL = StartType(iota)
	// Tells tsuki to execute a specific command on startup
	START_SINGLE_COMMAND
	// Tells tsuki to start without any specific targets
	// Note: Good luck interacting with it :3
	START_NONE
)

// Prefix of all environment overrides, TSUKI_SEAT for example
const EnvPrefix = "TSUKI"

// Config file looked up in the xdg config dirs if no path is given
const DefaultFile = "tsuki/config.toml"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	StartType StartType `envconfig:"START_TYPE" toml:"start_type,omitempty"`
	// What command to execute on start. Only matters if StartType is set to START_SINGLE_COMMAND
	StartCommand *string `envconfig:"START_COMMAND" toml:"start_command,omitempty"`
	// Client launched once the compositor runs, unless a command was given on the command line
	DefaultClient string `envconfig:"DEFAULT_CLIENT" toml:"default_client,omitempty"`
	Seat          string `envconfig:"SEAT" toml:"seat,omitempty"`
	// Device node of the gpu to use instead of the boot gpu
	PrimaryGPU string `envconfig:"PRIMARY_GPU" toml:"primary_gpu,omitempty"`
	// Connector types to drive, like "eDP" or "HDMI-A". "*" means any. Empty means eDP
	Connectors       []string  `envconfig:"CONNECTORS" toml:"connectors,omitempty"`
	RetryDelayMs     int       `envconfig:"RETRY_DELAY_MS" toml:"retry_delay_ms,omitempty"`
	OpenAttempts     int       `envconfig:"OPEN_ATTEMPTS" toml:"open_attempts,omitempty"`
	OpenRetryDelayMs int       `envconfig:"OPEN_RETRY_DELAY_MS" toml:"open_retry_delay_ms,omitempty"`
	ClearColor       []float64 `envconfig:"CLEAR_COLOR" toml:"clear_color,omitempty"`
	LogLevel         string    `envconfig:"LOG_LEVEL" toml:"log_level,omitempty"`
}

func Default() *Config {
	return &Config{
		StartType:        START_REPL,
		DefaultClient:    "weston-terminal",
		Seat:             "seat0",
		RetryDelayMs:     6,
		OpenAttempts:     100,
		OpenRetryDelayMs: 20,
		ClearColor:       []float64{0.1, 0.1, 0.1, 1},
		LogLevel:         "info",
	}
}

// Load reads the config at path on top of the defaults, then applies environment overrides.
// An empty path searches the xdg config dirs and is fine with finding nothing
func Load(path string) (*Config, error) {
	conf := Default()
	if path == "" {
		if found, err := xdg.SearchConfigFile(DefaultFile); err == nil {
			path = found
		} else {
			logrus.WithField("file", DefaultFile).Debugln("No config file found, using defaults")
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err = toml.Unmarshal(raw, conf); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		logrus.WithField("file", path).Debugln("Loaded config")
	}
	if err := envconfig.Process(EnvPrefix, conf); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Validate() error {
	if len(c.ClearColor) != 4 {
		return fmt.Errorf("%w: clear_color needs 4 components, got %d", ErrInvalid, len(c.ClearColor))
	}
	for _, v := range c.ClearColor {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: clear_color components have to be within [0, 1]", ErrInvalid)
		}
	}
	if c.RetryDelayMs <= 0 || c.OpenRetryDelayMs <= 0 {
		return fmt.Errorf("%w: delays have to be positive", ErrInvalid)
	}
	if c.OpenAttempts <= 0 {
		return fmt.Errorf("%w: open_attempts has to be positive", ErrInvalid)
	}
	if c.StartType < START_REPL || c.StartType > START_NONE {
		return fmt.Errorf("%w: unknown start_type %d", ErrInvalid, c.StartType)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c *Config) OpenRetryDelay() time.Duration {
	return time.Duration(c.OpenRetryDelayMs) * time.Millisecond
}

// Color returns the clear colour. Only valid after Validate
func (c *Config) Color() render.Color {
	return render.Color{R: c.ClearColor[0], G: c.ClearColor[1], B: c.ClearColor[2], A: c.ClearColor[3]}
}

// Level defaults to info for unparseable levels
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
