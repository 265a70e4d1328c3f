// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config holds the server-wide configuration record for wqd.
//
// Per the "no globals at import time" design rule, nothing here opens a
// socket, a file, or a logger; Config is just data, constructed by the
// cmd/wqd entry point and passed down explicitly.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the work-queue server.
type Config struct {
	// Port is the TCP port the server listens on.
	Port int

	// ClusterFile is the path to the cluster description file.
	ClusterFile string

	// SpoolDir is the directory holding per-job and per-user spool files.
	SpoolDir string

	// TickInterval is the period of the server's own queue refresh,
	// which fires on a fixed ticker whether or not clients connect.
	TickInterval time.Duration

	// RestartDelay is how long the server sleeps before reopening its
	// listening socket after a top-level failure.
	RestartDelay time.Duration

	// AdminAddr, if non-empty, serves a read-only HTTP status endpoint
	// on this address (e.g. "127.0.0.1:9090"). Empty disables it.
	AdminAddr string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is either "text" or "json".
	LogFormat string
}

// NewDefault returns the default configuration, overridable by flags or
// environment variables via Load.
func NewDefault() *Config {
	return &Config{
		Port:         getEnvIntOrDefault("WQ_PORT", 51093),
		ClusterFile:  os.Getenv("WQ_CLUSTER_FILE"),
		SpoolDir:     getEnvOrDefault("WQ_SPOOL_DIR", "/var/spool/wq"),
		TickInterval: getEnvDurationOrDefault("WQ_TICK_INTERVAL", 30*time.Second),
		RestartDelay: getEnvDurationOrDefault("WQ_RESTART_DELAY", 60*time.Second),
		AdminAddr:    os.Getenv("WQ_ADMIN_ADDR"),
		LogLevel:     getEnvOrDefault("WQ_LOG_LEVEL", "info"),
		LogFormat:    getEnvOrDefault("WQ_LOG_FORMAT", "text"),
	}
}

// Load overlays environment variables onto an existing configuration,
// leaving fields already set by flags untouched unless the environment
// variable is also present.
func (c *Config) Load() {
	if v := os.Getenv("WQ_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Port = i
		}
	}
	if v := os.Getenv("WQ_CLUSTER_FILE"); v != "" {
		c.ClusterFile = v
	}
	if v := os.Getenv("WQ_SPOOL_DIR"); v != "" {
		c.SpoolDir = v
	}
	if v := os.Getenv("WQ_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.TickInterval = d
		}
	}
	if v := os.Getenv("WQ_RESTART_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.RestartDelay = d
		}
	}
	if v := os.Getenv("WQ_ADMIN_ADDR"); v != "" {
		c.AdminAddr = v
	}
	if v := os.Getenv("WQ_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("WQ_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.ClusterFile == "" {
		return ErrMissingClusterFile
	}
	if c.SpoolDir == "" {
		return ErrMissingSpoolDir
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.TickInterval <= 0 {
		return ErrInvalidTick
	}
	if c.RestartDelay <= 0 {
		return ErrInvalidRestartDelay
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
