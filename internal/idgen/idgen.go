// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0

// Package idgen mints surrogate identifiers (stack ids, change set ids,
// request ids) when a caller doesn't supply one of their own.
package idgen

import "github.com/google/uuid"

// New returns a fresh random identifier suitable for a stack id, change set
// id, or log correlation request id.
func New() string {
	return uuid.NewString()
}

// OrNew returns existing if it is non-empty, otherwise mints a new id.
func OrNew(existing string) string {
	if existing != "" {
		return existing
	}
	return New()
}
