// Package config loads the netviz JSON configuration. Every field is a
// pointer so a partial file only overrides what it names; the Get* methods
// supply defaults for the rest.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/netviz/internal/inbox"
	"github.com/banshee-data/netviz/internal/layout"
	"github.com/banshee-data/netviz/internal/protocol"
	"github.com/banshee-data/netviz/internal/session"
	"github.com/banshee-data/netviz/internal/transport"
)

// ExampleConfigPath is the annotated example shipped with the repository.
const ExampleConfigPath = "config/netviz.example.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration.
type Config struct {
	// Producer connection
	Host       *string `json:"host,omitempty"`
	Port       *int    `json:"port,omitempty"`
	MaxRetries *int    `json:"max_retries,omitempty"`
	RetryDelay *string `json:"retry_delay,omitempty"` // duration string like "1s"

	// Serial link instead of TCP when set
	SerialPort *string `json:"serial_port,omitempty"`
	SerialBaud *int    `json:"serial_baud,omitempty"`

	// Consumer
	TickInterval  *string `json:"tick_interval,omitempty"`
	InboxCapacity *int    `json:"inbox_capacity,omitempty"`
	InboxOverflow *string `json:"inbox_overflow,omitempty"` // "drop" or "block"
	MaxFrameSize  *int    `json:"max_frame_size,omitempty"`

	// Layout
	NeuronSpacing  *float64 `json:"neuron_spacing,omitempty"`
	ChannelSpacing *float64 `json:"channel_spacing,omitempty"`
	LayerSpacing   *float64 `json:"layer_spacing,omitempty"`

	// Synthetic input layer
	InputChannels *int `json:"input_channels,omitempty"`
	InputHeight   *int `json:"input_height,omitempty"`
	InputWidth    *int `json:"input_width,omitempty"`

	// Optional services; empty disables them
	CapturePath *string `json:"capture_path,omitempty"`
	DebugListen *string `json:"debug_listen,omitempty"`
	GRPCListen  *string `json:"grpc_listen,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with every field unset.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	c := EmptyConfig()
	return &Config{
		Host:           ptrString(c.GetHost()),
		Port:           ptrInt(c.GetPort()),
		MaxRetries:     ptrInt(c.GetMaxRetries()),
		RetryDelay:     ptrString(c.GetRetryDelay().String()),
		SerialPort:     ptrString(""),
		SerialBaud:     ptrInt(c.GetSerialBaud()),
		TickInterval:   ptrString(c.GetTickInterval().String()),
		InboxCapacity:  ptrInt(c.GetInboxCapacity()),
		InboxOverflow:  ptrString(c.GetInboxOverflow().String()),
		MaxFrameSize:   ptrInt(c.GetMaxFrameSize()),
		NeuronSpacing:  ptrFloat64(c.GetLayoutParams().NeuronSpacing),
		ChannelSpacing: ptrFloat64(c.GetLayoutParams().ChannelSpacing),
		LayerSpacing:   ptrFloat64(c.GetLayoutParams().LayerSpacing),
		InputChannels:  ptrInt(c.GetInputLayer().Channels()),
		InputHeight:    ptrInt(c.GetInputLayer().Height()),
		InputWidth:     ptrInt(c.GetInputLayer().Width()),
		CapturePath:    ptrString(""),
		DebugListen:    ptrString(c.GetDebugListen()),
		GRPCListen:     ptrString(""),
	}
}

// LoadConfig loads a Config from a JSON file with a .json extension and at
// most 1MB in size. Fields omitted from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.Port != nil && (*c.Port <= 0 || *c.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535, got %d", *c.Port)
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", *c.MaxRetries)
	}
	for name, v := range map[string]*string{"retry_delay": c.RetryDelay, "tick_interval": c.TickInterval} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}
	if c.InboxCapacity != nil && *c.InboxCapacity < 0 {
		return fmt.Errorf("inbox_capacity must be non-negative, got %d", *c.InboxCapacity)
	}
	if c.InboxOverflow != nil {
		if _, err := inbox.ParseOverflowPolicy(*c.InboxOverflow); err != nil {
			return err
		}
	}
	if c.MaxFrameSize != nil && *c.MaxFrameSize < 0 {
		return fmt.Errorf("max_frame_size must be non-negative, got %d", *c.MaxFrameSize)
	}
	if c.SerialBaud != nil && *c.SerialBaud < 0 {
		return fmt.Errorf("serial_baud must be non-negative, got %d", *c.SerialBaud)
	}
	if err := c.GetLayoutParams().Validate(); err != nil {
		return err
	}
	for name, v := range map[string]*int{"input_channels": c.InputChannels, "input_height": c.InputHeight, "input_width": c.InputWidth} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	return nil
}

// GetHost returns the producer host or the default.
func (c *Config) GetHost() string {
	if c.Host == nil || *c.Host == "" {
		return "127.0.0.1"
	}
	return *c.Host
}

// GetPort returns the producer port or the default.
func (c *Config) GetPort() int {
	if c.Port == nil {
		return 65432
	}
	return *c.Port
}

// GetMaxRetries returns the number of retries after the first attempt.
func (c *Config) GetMaxRetries() int {
	if c.MaxRetries == nil {
		return 5
	}
	return *c.MaxRetries
}

// GetRetryDelay parses and returns RetryDelay.
func (c *Config) GetRetryDelay() time.Duration {
	return parseDuration(c.RetryDelay, time.Second)
}

// GetSerialPort returns the serial device path, empty for TCP.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

func (c *Config) GetSerialBaud() int {
	if c.SerialBaud == nil || *c.SerialBaud == 0 {
		return 115200
	}
	return *c.SerialBaud
}

// GetTickInterval parses and returns TickInterval.
func (c *Config) GetTickInterval() time.Duration {
	return parseDuration(c.TickInterval, 16*time.Millisecond)
}

// GetInboxCapacity returns the inbox bound; 0 means unbounded.
func (c *Config) GetInboxCapacity() int {
	if c.InboxCapacity == nil {
		return 0
	}
	return *c.InboxCapacity
}

// GetInboxOverflow returns the overflow policy, DropNewest when unset or
// invalid.
func (c *Config) GetInboxOverflow() inbox.OverflowPolicy {
	if c.InboxOverflow == nil {
		return inbox.DropNewest
	}
	p, err := inbox.ParseOverflowPolicy(*c.InboxOverflow)
	if err != nil {
		return inbox.DropNewest
	}
	return p
}

func (c *Config) GetMaxFrameSize() int {
	if c.MaxFrameSize == nil || *c.MaxFrameSize == 0 {
		return transport.DefaultMaxFrameSize
	}
	return *c.MaxFrameSize
}

// GetLayoutParams returns the spacing parameters, defaulting each unset one.
func (c *Config) GetLayoutParams() layout.Params {
	p := layout.DefaultParams()
	if c.NeuronSpacing != nil {
		p.NeuronSpacing = *c.NeuronSpacing
	}
	if c.ChannelSpacing != nil {
		p.ChannelSpacing = *c.ChannelSpacing
	}
	if c.LayerSpacing != nil {
		p.LayerSpacing = *c.LayerSpacing
	}
	return p
}

// GetInputLayer returns the synthetic input layer with any configured
// dimensions applied.
func (c *Config) GetInputLayer() protocol.LayerInfo {
	in := protocol.SyntheticInputLayer
	if c.InputChannels != nil {
		in.OutputShape[1] = *c.InputChannels
	}
	if c.InputHeight != nil {
		in.OutputShape[2] = *c.InputHeight
	}
	if c.InputWidth != nil {
		in.OutputShape[3] = *c.InputWidth
	}
	return in
}

// GetCapturePath returns the capture database path, empty when disabled.
func (c *Config) GetCapturePath() string {
	if c.CapturePath == nil {
		return ""
	}
	return *c.CapturePath
}

// GetDebugListen returns the debug HTTP address.
func (c *Config) GetDebugListen() string {
	if c.DebugListen == nil {
		return "127.0.0.1:8080"
	}
	return *c.DebugListen
}

// GetGRPCListen returns the gRPC health address, empty when disabled.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

// RetryConfig returns the transport retry policy.
func (c *Config) RetryConfig() transport.RetryConfig {
	return transport.RetryConfig{MaxRetries: c.GetMaxRetries(), RetryDelay: c.GetRetryDelay()}
}

// SessionConfig builds a session configuration. Callers add sinks and
// state hooks.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		Retry:         c.RetryConfig(),
		InboxCapacity: c.GetInboxCapacity(),
		Overflow:      c.GetInboxOverflow(),
		MaxFrameSize:  c.GetMaxFrameSize(),
		InputLayer:    c.GetInputLayer(),
		Layout:        c.GetLayoutParams(),
	}
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}
