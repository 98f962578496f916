package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/mstarongithub/tsuki/common/ipc"
	"github.com/mstarongithub/tsuki/compositor"
	"github.com/mstarongithub/tsuki/evloop"
	"github.com/mstarongithub/tsuki/kms"
	"github.com/mstarongithub/tsuki/output"
	"github.com/mstarongithub/tsuki/repl"
	"github.com/mstarongithub/tsuki/util/wrappers"
	"github.com/sirupsen/logrus"
)

// controller runs repl commands on the event loop
type controller struct {
	loop  *evloop.Loop
	state *compositor.State
	v     variant
}

func newController(loop *evloop.Loop, state *compositor.State, v variant) *controller {
	return &controller{loop: loop, state: state, v: v}
}

// onLoop runs fn on the loop and waits for its answer
func (c *controller) onLoop(fn func() (string, error)) (string, error) {
	type result struct {
		res string
		err error
	}
	done := make(chan result, 1)
	if err := c.loop.Post(func() {
		res, err := fn()
		done <- result{res, err}
	}); err != nil {
		return "", err
	}
	select {
	case r := <-done:
		return r.res, r.err
	case <-c.loop.Done():
		return "", evloop.ErrStopped
	}
}

// Outputs and Modes make the controller an ipc.OutputSource. Loop only
func (c *controller) Outputs() []*output.Output   { return c.state.Outputs() }
func (c *controller) Modes(name string) []kms.Mode { return c.v.modes(name) }

func (c *controller) answer(req ipc.OutputRequest) (ipc.OutputResponse, error) {
	var resp ipc.OutputResponse
	_, err := c.onLoop(func() (string, error) {
		resp = ipc.Answer(req, c)
		return "", nil
	})
	return resp, err
}

func (c *controller) commands() *repl.Commands {
	cmds := repl.NewCommands()
	cmds.Add("run", "run <command> [args...]: Start a client", func(args []string, r *repl.Repl) (string, error) {
		if len(args) == 0 {
			return "Nothing to run", nil
		}
		if err := spawn(strings.Join(args, " "), r.Output); err != nil {
			logrus.WithError(err).WithField("command", args[0]).Errorln("Command failed to start")
			return "Failed to start " + args[0], nil
		}
		return "Running " + args[0], nil
	})
	cmds.Add("quit", "Stop the compositor", func([]string, *repl.Repl) (string, error) {
		_, _ = c.onLoop(func() (string, error) {
			c.state.Stop()
			return "", nil
		})
		return "Quitting", repl.ErrStop
	})
	cmds.Add("vt", "vt <n>: Switch to virtual terminal n", func(args []string, _ *repl.Repl) (string, error) {
		if len(args) != 1 {
			return "Usage: vt <n>", nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return "Not a vt: " + args[0], nil
		}
		return c.onLoop(func() (string, error) {
			if err := c.v.changeVT(n); err != nil {
				return "Failed to switch vt: " + err.Error(), nil
			}
			return fmt.Sprintf("Switching to vt %d", n), nil
		})
	})
	cmds.Add("outputs", "List outputs as json", func([]string, *repl.Repl) (string, error) {
		resp, err := c.answer(ipc.OutputRequest{})
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal(resp)
		return string(raw), err
	})
	cmds.Add("modes", "modes <output>: List the modes of an output", func(args []string, _ *repl.Repl) (string, error) {
		if len(args) != 1 {
			return "Usage: modes <output>", nil
		}
		resp, err := c.answer(ipc.OutputRequest{IncludeModes: true, SpecifiesOutput: true, TargetOutput: args[0]})
		if err != nil {
			return "", err
		}
		if resp.OutputsFound == 0 {
			return fmt.Sprintf("Output %s not found", args[0]), nil
		}
		return formatModes(args[0], resp.OutputModes[args[0]]), nil
	})
	cmds.Add("pointer", "pointer <x> <y>: Move the pointer square", func(args []string, _ *repl.Repl) (string, error) {
		if len(args) != 2 {
			return "Usage: pointer <x> <y>", nil
		}
		x, errX := strconv.Atoi(args[0])
		y, errY := strconv.Atoi(args[1])
		if errX != nil || errY != nil {
			return "Coordinates have to be integers", nil
		}
		return c.onLoop(func() (string, error) {
			c.state.MovePointer(image.Pt(x, y))
			return fmt.Sprintf("Pointer at %d,%d", x, y), nil
		})
	})
	cmds.Add("inspect", "inspect backend|outputs|globals|redraws: Show internal state", func(args []string, _ *repl.Repl) (string, error) {
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		return c.onLoop(func() (string, error) { return c.inspect(target), nil })
	})
	return cmds
}

// inspect must run on the loop
func (c *controller) inspect(target string) string {
	switch target {
	case "backend":
		return c.v.inspect()
	case "outputs":
		outputs := c.state.Outputs()
		if len(outputs) == 0 {
			return "Outputs: none"
		}
		lines := make([]string, 0, len(outputs))
		for _, o := range outputs {
			lines = append(lines, fmt.Sprintf("Output %s at %v", o, o.Geometry()))
		}
		return strings.Join(lines, "\n")
	case "globals":
		globals := c.state.Registry.Globals()
		lines := make([]string, 0, len(globals))
		for _, g := range globals {
			lines = append(lines, fmt.Sprintf("Global %d: %s v%d", g.Name, g.Interface, g.Version))
		}
		return strings.Join(lines, "\n")
	case "redraws":
		return fmt.Sprintf("Redraws: %d", c.state.Redraws())
	default:
		return "Inspect one of: backend, outputs, globals, redraws"
	}
}

func formatModes(name string, modes []ipc.OutputMode) string {
	lines := []string{fmt.Sprintf("Modes for output %s:", name)}
	for _, m := range modes {
		line := fmt.Sprintf("\t- %dx%d@%.3f", m.Width, m.Height, float64(m.RefreshRate)/1000)
		if m.Preferred {
			line += " (preferred)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func replRunner(ctl *controller) {
	// Give repl some wrappers around stdin and stdout so that it closes those instead of stdin & stdout themselves
	commandRepl := repl.NewRepl(wrappers.NewReaderWrapper(os.Stdin), wrappers.NewWriterWrapper(os.Stdout))
	logrus.Debugln("Starting repl")
	if err := commandRepl.Run(ctl.commands().Handle); err != nil {
		logrus.WithError(err).Warningln("Repl stopped")
	}
}
