package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config represents the main configuration for the realtime gateway
type Config struct {
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Transport TransportConfig `yaml:"transport"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RealtimeConfig tunes the channel multiplexer
type RealtimeConfig struct {
	MaxChannels       int           `yaml:"max_channels"`       // Hard ceiling; acquires beyond it are refused
	WarningThreshold  int           `yaml:"warning_threshold"`  // Active channel count that marks the registry unhealthy
	CriticalThreshold int           `yaml:"critical_threshold"` // Active channel count reported as critical
	JoinTimeout       time.Duration `yaml:"join_timeout"`       // How long a new channel may take to become ready
	PollInterval      time.Duration `yaml:"poll_interval"`      // Readiness poll period
	StuckThreshold    time.Duration `yaml:"stuck_threshold"`    // Joining time after which a transport-confirmed channel counts as ready
	CleanupDelay      time.Duration `yaml:"cleanup_delay"`      // Settle delay between unsubscribe and removal
}

// TransportConfig describes the upstream realtime websocket
type TransportConfig struct {
	URL               string        `yaml:"url"`     // e.g. wss://project.example.com/realtime/v1/websocket
	APIKey            string        `yaml:"api_key"` // Sent as the apikey query parameter
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// GatewayConfig contains the downstream HTTP/websocket listener configuration
type GatewayConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`  // Empty accepts any origin
	MaxConnections    int           `yaml:"max_connections"`  // Concurrent connection cap; 0 disables it
	MonitorInterval   time.Duration `yaml:"monitor_interval"` // Period of the health/usage log line; 0 disables it
}

// CacheConfig sizes the query cache invalidated by change events
type CacheConfig struct {
	Size int `yaml:"size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputFile string `yaml:"output_file"` // Empty for stdout
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Realtime: RealtimeConfig{
			MaxChannels:       100,
			WarningThreshold:  10,
			CriticalThreshold: 50,
			JoinTimeout:       30 * time.Second,
			PollInterval:      100 * time.Millisecond,
			StuckThreshold:    5 * time.Second,
			CleanupDelay:      100 * time.Millisecond,
		},
		Transport: TransportConfig{
			URL:               "ws://localhost:4000/socket/websocket",
			HeartbeatInterval: 30 * time.Second,
			DialTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		Gateway: GatewayConfig{
			ListenAddr:        ":6002",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxConnections:    1000,
			MonitorInterval:   time.Minute,
		},
		Cache: CacheConfig{
			Size: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment overrides.
// An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config %s: %w", path, err)
		}
		defer f.Close()
		if err := decodeStrict(f, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides selected fields from AURELIA_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("AURELIA_TRANSPORT_URL")); v != "" {
		c.Transport.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("AURELIA_TRANSPORT_API_KEY")); v != "" {
		c.Transport.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AURELIA_GATEWAY_ADDR")); v != "" {
		c.Gateway.ListenAddr = v
	}
}
