package main

import (
	"errors"
	"fmt"

	"github.com/mstarongithub/tsuki/backend"
	"github.com/mstarongithub/tsuki/backend/tty"
	"github.com/mstarongithub/tsuki/backend/winit"
	"github.com/mstarongithub/tsuki/kms"
)

type variantKind int

const (
	variantWindowed = variantKind(iota)
	variantHardware
)

func (k variantKind) String() string {
	if k == variantWindowed {
		return "windowed"
	}
	return "hardware"
}

var errNested = errors.New("not possible while nested")

// selectVariant runs nested whenever there is a session to nest in
func selectVariant(getenv func(string) string) variantKind {
	if getenv("WAYLAND_DISPLAY") != "" || getenv("DISPLAY") != "" {
		return variantWindowed
	}
	return variantHardware
}

// variant is the backend chosen at startup. Only the field matching kind is set
type variant struct {
	kind     variantKind
	windowed *winit.Winit
	hardware *tty.Tty
}

func windowedVariant(w *winit.Winit) variant {
	return variant{kind: variantWindowed, windowed: w}
}

func hardwareVariant(t *tty.Tty) variant {
	return variant{kind: variantHardware, hardware: t}
}

func (v variant) capability() backend.Capability {
	if v.kind == variantWindowed {
		return v.windowed
	}
	return v.hardware
}

func (v variant) changeVT(n int) error {
	if v.kind == variantWindowed {
		return errNested
	}
	return v.hardware.ChangeVT(n)
}

func (v variant) modes(name string) []kms.Mode {
	if v.kind == variantWindowed {
		return v.windowed.Modes(name)
	}
	if out := v.hardware.Output(); out == nil || out.Name != name {
		return nil
	}
	return v.hardware.Modes()
}

// inspect describes the backend for the repl
func (v variant) inspect() string {
	if v.kind == variantWindowed {
		return fmt.Sprintf("Backend: windowed on %s, socket %s", v.windowed.SeatName(), v.windowed.Socket())
	}
	info := v.hardware.Inspect()
	if info.State != tty.Live {
		return fmt.Sprintf("Backend: hardware on %s, device %s, paused: %t", v.hardware.SeatName(), info.State, info.Paused)
	}
	return fmt.Sprintf(
		"Backend: hardware on %s, device %s (%s), output %s, mode %s on crtc %d with %d planes, scheduler %s, renderer %s, paused: %t",
		v.hardware.SeatName(), info.State, info.Path, info.Output, info.Mode, info.CRTC, info.Planes,
		info.Scheduler, info.Renderer, info.Paused,
	)
}
