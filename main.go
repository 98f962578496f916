// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mstarongithub/tsuki/config"
	"github.com/sirupsen/logrus"
)

var (
	command    = flag.String("c", "", "Client to start once the compositor runs. Defaults to default_client from the config")
	configPath = flag.String("config", "", "Path to the config file. Searches the xdg config dirs for tsuki/config.toml if empty")
	toolMode   = flag.Bool("tool", false, "Start as a tool instead of a compositor")
	help       = flag.Bool("help", false, "Show the help message")
)

func init() {
	flag.StringVar(command, "command", "", "Same as -c")
}

func fatal(msg string, err error) {
	fmt.Printf("error %s: %s\n", msg, err)
	os.Exit(1)
}

func main() {
	flag.Parse()
	conf, err := config.Load(*configPath)
	if err != nil {
		fatal("loading config", err)
	}
	logrus.SetLevel(conf.Level())

	if *toolMode {
		utilMain(conf)
		return
	}
	if *help {
		helpMessage()
		return
	}

	switch selectVariant(os.Getenv) {
	case variantWindowed:
		logrus.Infoln("Running inside another session, starting nested")
		wlMain(conf)
	case variantHardware:
		logrus.Infoln("Starting on the tty")
		ttyMain(conf)
	}
}

func helpMessage() {
	fmt.Println("---- Help message for tsuki ----")
	fmt.Println("\nStarts nested when WAYLAND_DISPLAY or DISPLAY is set, directly on the gpu otherwise")
	fmt.Println("\nFlags:")
	fmt.Println("\t-c, -command: Client to start once the compositor runs")
	fmt.Println("\t-config: Path to the config file. Default is $XDG_CONFIG_HOME/tsuki/config.toml")
	fmt.Println("\t-tool: Start as a tool instead of a compositor. See -tool -help")
	fmt.Println("\t-help: Show this help message")
	fmt.Println("\nKeys on the tty:")
	fmt.Println("\tCtrl+Alt+F1..F12: Switch vt")
	fmt.Println("\tCtrl+Shift+Q: Quit")
}
