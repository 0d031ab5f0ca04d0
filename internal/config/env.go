// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config reads localtube's runtime configuration from environment
// variables. The Parse* helpers log the source (environment or default)
// of every value; ReadEnv logs only a warning for an integer it cannot
// parse, which falls back to the default.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/localtube/localtube/internal/log"
)

// ParseString reads a string from an environment variable or returns the default.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			logger.Debug().Str("key", key).Str("default", defaultValue).Str("source", "default").
				Msg("using default value (environment variable is empty)")
			return defaultValue
		}
		logger.Debug().Str("key", key).Str("value", value).Str("source", "environment").
			Msg("using environment variable")
		return value
	}
	logger.Debug().Str("key", key).Str("default", defaultValue).Str("source", "default").
		Msg("using default value")
	return defaultValue
}

// ParseInt reads an integer from an environment variable or returns the default.
// It falls back to default on parse errors, logging a warning.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Int("default", defaultValue).Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").
		Msg("using environment variable")
	return i
}

// ParseIntClamped behaves like ParseInt but clamps the resolved value to [min, max],
// logging a warning when clamping occurs.
func ParseIntClamped(key string, defaultValue, min, max int) int {
	v := ParseInt(key, defaultValue)
	if v < min {
		log.WithComponent("config").Warn().Str("key", key).Int("value", v).Int("clamped_to", min).
			Msg("value below minimum, clamping")
		return min
	}
	if v > max {
		log.WithComponent("config").Warn().Str("key", key).Int("value", v).Int("clamped_to", max).
			Msg("value above maximum, clamping")
		return max
	}
	return v
}

// ParseDuration reads a duration from an environment variable in Go duration
// format (e.g. "5s") or returns the default.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Dur("default", defaultValue).Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").
		Msg("using environment variable")
	return d
}

// ParseBool reads a boolean from an environment variable or returns the default.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Bool("default", defaultValue).Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}
