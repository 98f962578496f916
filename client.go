package main

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mstarongithub/tsuki/config"
	"github.com/sirupsen/logrus"
)

// clientCommand picks the client to start: the command line wins over the config
func clientCommand(conf *config.Config, flagCommand string) string {
	if flagCommand != "" {
		return flagCommand
	}
	switch conf.StartType {
	case config.START_SINGLE_COMMAND:
		if conf.StartCommand != nil {
			return *conf.StartCommand
		}
		return conf.DefaultClient
	case config.START_NONE:
		return ""
	default:
		return conf.DefaultClient
	}
}

// spawn starts cmdString in the background with our environment, which carries WAYLAND_DISPLAY
// when running nested
func spawn(cmdString string, out io.Writer) error {
	parts := strings.Fields(cmdString)
	if len(parts) == 0 {
		return exec.ErrNotFound
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	cmd.Env = os.Environ()
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return err
	}
	logrus.WithField("command", cmdString).Infoln("Started client")
	go func() {
		err := cmd.Wait()
		if exiterr, ok := err.(*exec.ExitError); ok {
			logrus.WithError(err).WithFields(logrus.Fields{
				"exit-code": exiterr.ExitCode(),
				"command":   cmdString,
			}).Warningln("Bad command completion")
		}
	}()
	return nil
}

// startClients launches the configured client and, if wanted, the repl
func startClients(conf *config.Config, ctl *controller) {
	if cmd := clientCommand(conf, *command); cmd != "" {
		if err := spawn(cmd, os.Stdout); err != nil {
			logrus.WithError(err).WithField("command", cmd).Errorln("Failed to start client")
		}
	}
	if conf.StartType == config.START_REPL {
		go replRunner(ctl)
	}
}
