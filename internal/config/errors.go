// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "errors"

var (
	// ErrUnknownConfigField marks a config file rejected for carrying a key
	// no AppConfig field maps to.
	ErrUnknownConfigField = errors.New("unknown config field")

	// ErrInvalidConfig wraps every problem reported by Validate.
	ErrInvalidConfig = errors.New("invalid configuration")
)
