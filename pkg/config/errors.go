package config

import "errors"

var (
	// ErrMissingClusterFile is returned when no cluster description file is set.
	ErrMissingClusterFile = errors.New("cluster description file is required")

	// ErrMissingSpoolDir is returned when the spool directory is not set.
	ErrMissingSpoolDir = errors.New("spool directory is required")

	// ErrInvalidPort is returned when the listen port is out of range.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")

	// ErrInvalidTick is returned when the refresh tick interval is invalid.
	ErrInvalidTick = errors.New("tick interval must be greater than 0")

	// ErrInvalidRestartDelay is returned when the restart delay is invalid.
	ErrInvalidRestartDelay = errors.New("restart delay must be greater than 0")
)
