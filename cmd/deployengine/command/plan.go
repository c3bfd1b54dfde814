// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/cli"

	"github.com/stackforge/deployengine"
	"github.com/stackforge/deployengine/internal/plans"
)

// PlanCommand parses a template file and prints the change set that would
// result from deploying it to a brand-new stack (i.e. every resource shows
// as an addition). It never contacts a real stack controller, so it's safe
// to run against any template without live service credentials.
type PlanCommand struct {
	Ui cli.Ui
}

func (c *PlanCommand) Run(args []string) int {
	if len(args) != 1 {
		c.Ui.Error("usage: deployengine plan TEMPLATE")
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

	changes, err := plans.Diff(nil, tmpl, false)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	for _, change := range changes {
		c.Ui.Output(fmt.Sprintf("%-8s %-40s %s", change.Action, change.LogicalID, change.ResourceType))
	}
	return 0
}

func (c *PlanCommand) Help() string {
	return strings.TrimSpace(`
Usage: deployengine plan TEMPLATE

  Parses TEMPLATE and prints the change set that would result from
  deploying it as a brand-new stack.
`)
}

func (c *PlanCommand) Synopsis() string {
	return "Show the changes a template would make to a new stack"
}
