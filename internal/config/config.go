// Package config loads server configuration from an optional YAML file,
// applies defaults, and honors a small set of environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5s" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RoomDef describes one room in the fixed catalog.
type RoomDef struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// HistoryConfig bounds per-room message history.
type HistoryConfig struct {
	// Capacity is the maximum number of messages retained per room.
	// Oldest messages are evicted first.
	Capacity int `yaml:"capacity"`
	// JoinLimit is how many recent messages a client receives on join.
	JoinLimit int `yaml:"join_limit"`
}

// MessageConfig controls message validation and per-connection rate limiting.
type MessageConfig struct {
	MaxLength int     `yaml:"max_length"`
	Rate      float64 `yaml:"rate"`
	Burst     int     `yaml:"burst"`
}

// ConnConfig controls WebSocket connection management.
type ConnConfig struct {
	MaxConns    int      `yaml:"max_conns"`
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// IPLimitConfig controls per-IP limiting of WebSocket upgrades.
type IPLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Config is the full server configuration.
type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	RedisAddr      string        `yaml:"redis_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	Rooms          []RoomDef     `yaml:"rooms"`
	History        HistoryConfig `yaml:"history"`
	Message        MessageConfig `yaml:"message"`
	Conn           ConnConfig    `yaml:"conn"`
	IPLimit        IPLimitConfig `yaml:"ip_limit"`
	TypingTTL      Duration      `yaml:"typing_ttl"`
}

// Default returns the configuration used when no file is provided.
// The room catalog matches the service's stock deployment.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		Rooms: []RoomDef{
			{ID: "general", Name: "General"},
			{ID: "tech", Name: "Tech Talk"},
			{ID: "random", Name: "Random"},
		},
		History:   HistoryConfig{Capacity: 200, JoinLimit: 50},
		Message:   MessageConfig{MaxLength: 500, Rate: 5, Burst: 10},
		IPLimit:   IPLimitConfig{Requests: 20, Window: Duration(time.Minute)},
		TypingTTL: Duration(5 * time.Second),
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides addresses from the environment, matching the
// container deployment convention.
func (c *Config) applyEnv() {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
}

func (c *Config) validate() error {
	if len(c.Rooms) == 0 {
		return fmt.Errorf("config: at least one room is required")
	}
	seen := make(map[string]struct{}, len(c.Rooms))
	for _, r := range c.Rooms {
		if r.ID == "" {
			return fmt.Errorf("config: room with empty id")
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("config: duplicate room id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	if c.History.Capacity <= 0 {
		return fmt.Errorf("config: history.capacity must be positive")
	}
	if c.History.JoinLimit <= 0 || c.History.JoinLimit > c.History.Capacity {
		return fmt.Errorf("config: history.join_limit must be in 1..capacity")
	}
	if c.Message.MaxLength <= 0 {
		return fmt.Errorf("config: message.max_length must be positive")
	}
	return nil
}
