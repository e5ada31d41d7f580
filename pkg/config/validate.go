package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a single validation error with context.
type ValidationError struct {
	Path    string // e.g., "realtime.max_channels"
	Message string // e.g., "must be positive"
	Hint    string // e.g., "recommended: 100"
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate performs comprehensive validation of the entire config.
// It aggregates all errors and returns them, allowing the caller to print all issues at once.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateRealtime()...)
	errs = append(errs, c.validateTransport()...)
	errs = append(errs, c.validateGateway()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateRealtime() []error {
	var errs []error
	rc := c.Realtime

	if rc.MaxChannels <= 0 {
		errs = append(errs, ValidationError{
			Path:    "realtime.max_channels",
			Message: fmt.Sprintf("must be positive; got %d", rc.MaxChannels),
			Hint:    "recommended: 100",
		})
	}
	if rc.WarningThreshold <= 0 {
		errs = append(errs, ValidationError{
			Path:    "realtime.warning_threshold",
			Message: fmt.Sprintf("must be positive; got %d", rc.WarningThreshold),
		})
	}
	if rc.CriticalThreshold < rc.WarningThreshold {
		errs = append(errs, ValidationError{
			Path:    "realtime.critical_threshold",
			Message: fmt.Sprintf("must be >= warning_threshold (%d); got %d", rc.WarningThreshold, rc.CriticalThreshold),
		})
	}
	if rc.MaxChannels > 0 && rc.WarningThreshold > rc.MaxChannels {
		errs = append(errs, ValidationError{
			Path:    "realtime.warning_threshold",
			Message: fmt.Sprintf("must not exceed max_channels (%d); got %d", rc.MaxChannels, rc.WarningThreshold),
		})
	}

	durations := []struct {
		path string
		d    time.Duration
	}{
		{"realtime.join_timeout", rc.JoinTimeout},
		{"realtime.poll_interval", rc.PollInterval},
		{"realtime.stuck_threshold", rc.StuckThreshold},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, ValidationError{
				Path:    d.path,
				Message: fmt.Sprintf("must be positive; got %s", d.d),
			})
		}
	}
	if rc.CleanupDelay < 0 {
		errs = append(errs, ValidationError{
			Path:    "realtime.cleanup_delay",
			Message: fmt.Sprintf("must not be negative; got %s", rc.CleanupDelay),
		})
	}
	if rc.PollInterval > 0 && rc.JoinTimeout > 0 && rc.PollInterval >= rc.JoinTimeout {
		errs = append(errs, ValidationError{
			Path:    "realtime.poll_interval",
			Message: "must be shorter than join_timeout",
		})
	}

	return errs
}

func (c *Config) validateTransport() []error {
	var errs []error
	tc := c.Transport

	if tc.URL == "" {
		errs = append(errs, ValidationError{
			Path:    "transport.url",
			Message: "must not be empty",
			Hint:    "set AURELIA_TRANSPORT_URL or transport.url",
		})
	} else if u, err := url.Parse(tc.URL); err != nil {
		errs = append(errs, ValidationError{
			Path:    "transport.url",
			Message: fmt.Sprintf("invalid URL: %v", err),
		})
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, ValidationError{
			Path:    "transport.url",
			Message: fmt.Sprintf("unsupported scheme %q", u.Scheme),
			Hint:    "expected ws:// or wss://",
		})
	}

	if tc.HeartbeatInterval <= 0 {
		errs = append(errs, ValidationError{
			Path:    "transport.heartbeat_interval",
			Message: fmt.Sprintf("must be positive; got %s", tc.HeartbeatInterval),
		})
	}
	if tc.DialTimeout <= 0 {
		errs = append(errs, ValidationError{
			Path:    "transport.dial_timeout",
			Message: fmt.Sprintf("must be positive; got %s", tc.DialTimeout),
		})
	}

	return errs
}

func (c *Config) validateGateway() []error {
	var errs []error
	gc := c.Gateway

	if gc.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: "must not be empty",
		})
	} else if _, _, err := net.SplitHostPort(gc.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Path:    "gateway.listen_addr",
			Message: fmt.Sprintf("invalid address: %v", err),
			Hint:    "expected host:port or :port",
		})
	}

	if gc.MaxConnections < 0 {
		errs = append(errs, ValidationError{
			Path:    "gateway.max_connections",
			Message: fmt.Sprintf("must not be negative; got %d", gc.MaxConnections),
			Hint:    "use 0 to disable the limit",
		})
	}
	if gc.MonitorInterval < 0 {
		errs = append(errs, ValidationError{
			Path:    "gateway.monitor_interval",
			Message: fmt.Sprintf("must not be negative; got %s", gc.MonitorInterval),
		})
	}

	for i, origin := range gc.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("gateway.allowed_origins[%d]", i),
				Message: "must not be empty",
			})
		}
	}

	return errs
}

func (c *Config) validateCache() []error {
	if c.Cache.Size <= 0 {
		return []error{ValidationError{
			Path:    "cache.size",
			Message: fmt.Sprintf("must be positive; got %d", c.Cache.Size),
		}}
	}
	return nil
}

func (c *Config) validateLogging() []error {
	var errs []error
	lc := c.Logging

	switch lc.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.level",
			Message: fmt.Sprintf("invalid value %q", lc.Level),
			Hint:    "allowed values: debug, info, warn, error",
		})
	}

	switch lc.Format {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Path:    "logging.format",
			Message: fmt.Sprintf("invalid value %q", lc.Format),
			Hint:    "allowed values: json, console",
		})
	}

	return errs
}
