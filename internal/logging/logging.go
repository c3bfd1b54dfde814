// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package logging provides the structured loggers used throughout the
// deployment engine. Every component gets its own named child logger so
// that a single deployment's log output can be filtered by component.
package logging

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	root     hclog.Logger
	rootOnce sync.Once
)

// Root returns the process-wide root logger. Its level is controlled by the
// DEPLOYENGINE_LOG environment variable (trace, debug, info, warn, error),
// defaulting to warn so that library consumers aren't spammed unless they
// opt in.
func Root() hclog.Logger {
	rootOnce.Do(func() {
		level := hclog.LevelFromString(os.Getenv("DEPLOYENGINE_LOG"))
		if level == hclog.NoLevel {
			level = hclog.Warn
		}
		root = hclog.New(&hclog.LoggerOptions{
			Name:       "deployengine",
			Level:      level,
			Output:     os.Stderr,
			JSONFormat: os.Getenv("DEPLOYENGINE_LOG_JSON") != "",
		})
	})
	return root
}

// Named returns a child of Root with the given component name.
func Named(name string) hclog.Logger {
	return Root().Named(name)
}

// ForStack returns a logger scoped to a single stack deployment, carrying
// the stack name and an optional request id for correlating a whole
// deploy/update/delete pass across log lines.
func ForStack(component, stackName, requestID string) hclog.Logger {
	l := Named(component).With("stack", stackName)
	if requestID != "" {
		l = l.With("request_id", requestID)
	}
	return l
}

// RedactParameterValue masks a NoEcho parameter value before it is logged,
// matching the reference cloud's treatment of NoEcho parameters in
// CloudFormation events and console output.
func RedactParameterValue(noEcho bool, value string) string {
	if !noEcho || value == "" {
		return value
	}
	return "****"
}
