package config

import "errors"

// ErrConfigNotFound is returned when an explicitly requested file is missing.
var ErrConfigNotFound = errors.New("configuration file not found")

// ErrInvalid marks configuration values that fail validation.
var ErrInvalid = errors.New("invalid configuration")
