// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/stackforge/deployengine/cmd/deployengine/command"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ui := &cli.ColoredUi{
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
		OutputColor: cli.UiColorNone,
		ErrorColor:  cli.UiColorRed,
		WarnColor:   cli.UiColorYellow,
	}

	c := cli.NewCLI("deployengine", "0.1.0")
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"validate": func() (cli.Command, error) { return &command.ValidateCommand{Ui: ui}, nil },
		"plan":     func() (cli.Command, error) { return &command.PlanCommand{Ui: ui}, nil },
	}

	exitStatus, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return exitStatus
}
