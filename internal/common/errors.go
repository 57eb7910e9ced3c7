// Package common defines shared constants and sentinel errors used across
// kinloop components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorAlreadyExists = errors.New("already exists")

	// Network-level errors.
	ErrorTimeout              = errors.New("operation timed out")
	ErrorNoConnectedEndpoints = errors.New("no connected endpoints")
)
