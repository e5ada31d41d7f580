package realtime

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Config tunes a Registry. Zero fields select the defaults.
type Config struct {
	MaxChannels       int
	WarningThreshold  int
	CriticalThreshold int
	JoinTimeout       time.Duration
	PollInterval      time.Duration
	StuckThreshold    time.Duration
	CleanupDelay      time.Duration
	Clock             clock.Clock
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxChannels:       100,
		WarningThreshold:  10,
		CriticalThreshold: 50,
		JoinTimeout:       30 * time.Second,
		PollInterval:      100 * time.Millisecond,
		StuckThreshold:    5 * time.Second,
		CleanupDelay:      100 * time.Millisecond,
		Clock:             clock.New(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxChannels <= 0 {
		c.MaxChannels = def.MaxChannels
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = def.WarningThreshold
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = def.CriticalThreshold
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = def.JoinTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = def.StuckThreshold
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = def.CleanupDelay
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}
