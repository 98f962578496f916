package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mstarongithub/tsuki/backend/winit"
	"github.com/mstarongithub/tsuki/compositor"
	"github.com/mstarongithub/tsuki/config"
	"github.com/mstarongithub/tsuki/evloop"
	"github.com/sirupsen/logrus"
)

func wlMain(conf *config.Config) {
	winit.ForwardLogs()

	loop := evloop.New(nil)
	state := compositor.New(loop)
	windowed, err := winit.New(loop, state, conf.Seat)
	if err != nil {
		fatal("initializing nested backend", err)
	}
	v := windowedVariant(windowed)
	state.SetBackend(v.capability())
	if err = v.capability().Init(); err != nil {
		fatal("starting nested backend", err)
	}

	// wlroots wants the main goroutine, our loop gets its own
	go func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Errorln("Event loop failed")
		}
		windowed.Stop()
	}()
	startClients(conf, newController(loop, state, v))

	if err = windowed.Run(); err != nil {
		fatal("running nested backend", err)
	}
	loop.Stop()
	logrus.Infoln("Stopped")
}
