package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend modes.
const (
	ModeREST     = "rest"
	ModePostgres = "postgres"
)

// Config represents the global ~/.golaco/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Backend       Backend       `toml:"backend"`
	Auth          Auth          `toml:"auth"`
	Realtime      Realtime      `toml:"realtime"`
	Connectivity  Connectivity  `toml:"connectivity"`
	Typing        Typing        `toml:"typing"`
	Notifications Notifications `toml:"notifications"`
	Cache         Cache         `toml:"cache"`
	Log           Log           `toml:"log"`
}

// Backend describes how the daemon reaches the hosted backend.
type Backend struct {
	URL            string   `toml:"url"`
	AnonKey        string   `toml:"anon_key"`
	Mode           string   `toml:"mode"`
	DatabaseURL    string   `toml:"database_url"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Auth holds the session access token, if it is persisted at all.
type Auth struct {
	AccessToken string `toml:"access_token"`
}

// Realtime tunes the websocket channel client.
type Realtime struct {
	URL                string   `toml:"url"`
	HeartbeatInterval  Duration `toml:"heartbeat_interval"`
	JoinTimeout        Duration `toml:"join_timeout"`
	ReconnectBaseDelay Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay  Duration `toml:"reconnect_max_delay"`
}

// Connectivity tunes the reachability prober.
type Connectivity struct {
	ProbeInterval Duration `toml:"probe_interval"`
	ProbeTimeout  Duration `toml:"probe_timeout"`
	Debounce      Duration `toml:"debounce"`
}

// Typing tunes the typing indicator read side. StaleAfter of zero keeps
// flags until their owner clears them.
type Typing struct {
	StaleAfter Duration `toml:"stale_after"`
}

// Notifications tunes the new-message notification dispatcher.
type Notifications struct {
	LookupTimeout Duration `toml:"lookup_timeout"`
	RoutePrefix   string   `toml:"route_prefix"`
}

// Cache configures the profile cache. An empty RedisURL keeps it in memory.
type Cache struct {
	RedisURL   string   `toml:"redis_url"`
	ProfileTTL Duration `toml:"profile_ttl"`
}

// Log sets the daemon log level ("debug", "info", "warn", "error").
type Log struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration that reads and writes as a string ("5s").
type Duration struct {
	time.Duration
}

// D wraps a time.Duration.
func D(d time.Duration) Duration { return Duration{d} }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// Defaults returns a config with every tunable set.
func Defaults() *Config {
	return &Config{
		Backend: Backend{
			Mode:           ModeREST,
			RequestTimeout: D(10 * time.Second),
		},
		Realtime: Realtime{
			HeartbeatInterval:  D(25 * time.Second),
			JoinTimeout:        D(10 * time.Second),
			ReconnectBaseDelay: D(time.Second),
			ReconnectMaxDelay:  D(30 * time.Second),
		},
		Connectivity: Connectivity{
			ProbeInterval: D(5 * time.Second),
			ProbeTimeout:  D(3 * time.Second),
		},
		Notifications: Notifications{
			LookupTimeout: D(5 * time.Second),
			RoutePrefix:   "/messages/",
		},
		Cache: Cache{
			ProfileTTL: D(10 * time.Minute),
		},
		Log: Log{Level: "info"},
	}
}

// Load reads config from the given path on top of Defaults. Returns nil and
// an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("GOLACO_BACKEND_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("GOLACO_ANON_KEY"); v != "" {
		c.Backend.AnonKey = v
	}
	if v := os.Getenv("GOLACO_ACCESS_TOKEN"); v != "" {
		c.Auth.AccessToken = v
	}
	if v := os.Getenv("GOLACO_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	if _, err := url.Parse(c.Backend.URL); err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	switch c.Backend.Mode {
	case ModeREST:
		if c.Backend.AnonKey == "" {
			return errors.New("backend.anon_key is required in rest mode")
		}
	case ModePostgres:
		if c.Backend.DatabaseURL == "" {
			return errors.New("backend.database_url is required in postgres mode")
		}
	default:
		return fmt.Errorf("backend.mode %q: must be %q or %q", c.Backend.Mode, ModeREST, ModePostgres)
	}
	return nil
}

// RealtimeURL returns the websocket endpoint, derived from the backend URL
// when not set explicitly.
func (c *Config) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	base := strings.TrimRight(c.Backend.URL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/realtime/v1"
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
