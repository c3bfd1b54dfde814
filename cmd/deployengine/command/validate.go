// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package command holds the deployengine CLI's subcommands, in the style of
// opentofu's internal/command package: one Command implementation per
// subcommand, sharing only a cli.Ui.
package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/stackforge/deployengine"
)

// ValidateCommand parses a template file and reports whether it is
// well-formed, without computing a change set against any stack.
type ValidateCommand struct {
	Ui cli.Ui
}

func (c *ValidateCommand) Run(args []string) int {
	if len(args) != 1 {
		c.Ui.Error("usage: deployengine validate TEMPLATE")
		return 1
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		c.Ui.Error(fmt.Sprintf("reading %s: %s", args[0], err))
		return 1
	}
	tmpl, err := deployengine.ParseTemplate(body)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("%s: %s", args[0], err))
		return 1
	}
	c.Ui.Output(fmt.Sprintf("%s is valid: %d resource(s), %d parameter(s), %d output(s)",
		args[0], len(tmpl.Resources), len(tmpl.Parameters), len(tmpl.Outputs)))
	return 0
}

func (c *ValidateCommand) Help() string {
	return strings.TrimSpace(`
Usage: deployengine validate TEMPLATE

  Parses TEMPLATE (JSON or YAML) and reports whether it is well-formed.
`)
}

func (c *ValidateCommand) Synopsis() string {
	return "Check whether a template is syntactically valid"
}
