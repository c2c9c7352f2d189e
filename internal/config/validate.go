package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validEncoderPreferences = map[string]bool{
	"maxperformance":   true,
	"balanced":         true,
	"minbandwidth":     true,
	"maxcompatibility": true,
}

// ValidationResult splits validation errors into Fatals (block startup) and
// Warnings (logged, auto-corrected, startup continues).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors concatenates Fatals and Warnings for callers that just want the
// full list without caring which tier each came from.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values, splitting issues that
// must block startup (malformed identity/auth fields) from issues that are
// auto-corrected by clamping to a safe default and merely logged.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if c.AgentID != "" && !uuidRegex.MatchString(c.AgentID) {
		result.Fatals = append(result.Fatals, fmt.Errorf("agent_id %q is not a valid UUID", c.AgentID))
	}

	if c.RelayURL != "" {
		u, err := url.Parse(c.RelayURL)
		if err != nil {
			result.Fatals = append(result.Fatals, fmt.Errorf("relay_url %q is not a valid URL: %w", c.RelayURL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https" {
			result.Fatals = append(result.Fatals, fmt.Errorf("relay_url scheme must be ws, wss, http, or https, got %q", u.Scheme))
		}
	}

	if c.AuthToken != "" {
		for _, r := range c.AuthToken {
			if unicode.IsControl(r) {
				result.Fatals = append(result.Fatals, fmt.Errorf("auth_token contains control characters"))
				break
			}
		}
	}

	if c.Latitude < -90 || c.Latitude > 90 {
		result.Fatals = append(result.Fatals, fmt.Errorf("latitude %f out of range [-90, 90]", c.Latitude))
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		result.Fatals = append(result.Fatals, fmt.Errorf("longitude %f out of range [-180, 180]", c.Longitude))
	}

	// Clamp intervals to safe range to prevent panics (e.g. rand.Int64N(0))
	if c.HeartbeatIntervalSeconds < 5 {
		result.Warnings = append(result.Warnings, fmt.Errorf("heartbeat_interval_seconds %d is below minimum 5, clamping", c.HeartbeatIntervalSeconds))
		c.HeartbeatIntervalSeconds = 5
	} else if c.HeartbeatIntervalSeconds > 3600 {
		result.Warnings = append(result.Warnings, fmt.Errorf("heartbeat_interval_seconds %d exceeds maximum 3600, clamping", c.HeartbeatIntervalSeconds))
		c.HeartbeatIntervalSeconds = 3600
	}

	if c.TargetFPS < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("target_fps %d is below minimum 1, clamping", c.TargetFPS))
		c.TargetFPS = 1
	} else if c.TargetFPS > 120 {
		result.Warnings = append(result.Warnings, fmt.Errorf("target_fps %d exceeds maximum 120, clamping", c.TargetFPS))
		c.TargetFPS = 120
	}

	if c.EncoderPreference != "" && !validEncoderPreferences[strings.ToLower(c.EncoderPreference)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("encoder_preference %q is not valid (use MaxPerformance, Balanced, MinBandwidth, or MaxCompatibility)", c.EncoderPreference))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	// Clamp concurrency settings to safe range
	if c.MaxConcurrentSessions < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_concurrent_sessions %d is below minimum 1, clamping", c.MaxConcurrentSessions))
		c.MaxConcurrentSessions = 1
	} else if c.MaxConcurrentSessions > 100000 {
		result.Warnings = append(result.Warnings, fmt.Errorf("max_concurrent_sessions %d exceeds maximum 100000, clamping", c.MaxConcurrentSessions))
		c.MaxConcurrentSessions = 100000
	}

	if c.RelayQueueSize < 1 {
		result.Warnings = append(result.Warnings, fmt.Errorf("relay_queue_size %d is below minimum 1, clamping", c.RelayQueueSize))
		c.RelayQueueSize = 1
	} else if c.RelayQueueSize > 100000 {
		result.Warnings = append(result.Warnings, fmt.Errorf("relay_queue_size %d exceeds maximum 100000, clamping", c.RelayQueueSize))
		c.RelayQueueSize = 100000
	}

	for _, err := range result.Fatals {
		slog.Error("config validation fatal", "error", err)
	}
	for _, err := range result.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return result
}
