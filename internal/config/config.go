package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend   BackendConfig
	Reconnect ReconnectConfig
	Media     MediaConfig
	Storage   StorageConfig
	Bridge    BridgeConfig
	Calls     CallsConfig
	Log       LogConfig

	SearchDebounce time.Duration
	Notifications  bool
}

type BackendConfig struct {
	// URL is empty when no backend is configured; realtime stays disabled.
	URL         string
	HTTPTimeout time.Duration
}

type ReconnectConfig struct {
	Attempts int
	Delay    time.Duration
	Jitter   time.Duration
}

type MediaConfig struct {
	// URL of the media server; empty selects the loopback engine.
	URL      string
	STUNURLs []string
}

type StorageConfig struct {
	SessionFile string
	CacheDB     string
	RedisURL    string
}

type BridgeConfig struct {
	Addr string
}

type CallsConfig struct {
	MaxPending     int
	SignalReject   bool
	ReplacePending bool
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, after loading a .env file
// when one exists. A value that does not parse fails the load.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		Backend: BackendConfig{
			URL:         strings.TrimRight(env.str("LOOPYNC_BACKEND_URL", env.str("REACT_APP_BACKEND_URL", "")), "/"),
			HTTPTimeout: env.duration("LOOPYNC_HTTP_TIMEOUT", 10*time.Second),
		},
		Reconnect: ReconnectConfig{
			Attempts: env.integer("LOOPYNC_RECONNECT_ATTEMPTS", 5),
			Delay:    env.duration("LOOPYNC_RECONNECT_DELAY", time.Second),
			Jitter:   env.duration("LOOPYNC_RECONNECT_JITTER", 0),
		},
		Media: MediaConfig{
			URL:      env.str("LOOPYNC_MEDIA_URL", ""),
			STUNURLs: env.list("LOOPYNC_STUN_URLS", []string{"stun:stun.l.google.com:19302"}),
		},
		Storage: StorageConfig{
			SessionFile: env.str("LOOPYNC_SESSION_FILE", filepath.Join(defaultDataDir(), "session.json")),
			CacheDB:     env.str("LOOPYNC_CACHE_DB", filepath.Join(defaultDataDir(), "cache.db")),
			RedisURL:    env.str("LOOPYNC_REDIS_URL", ""),
		},
		Bridge: BridgeConfig{
			Addr: env.str("LOOPYNC_BRIDGE_ADDR", "127.0.0.1:8090"),
		},
		Calls: CallsConfig{
			MaxPending:     env.integer("LOOPYNC_MAX_PENDING_CALLS", 4),
			SignalReject:   env.boolean("LOOPYNC_SIGNAL_REJECT", false),
			ReplacePending: env.boolean("LOOPYNC_REPLACE_PENDING_CALLS", false),
		},
		Log: LogConfig{
			Level:  env.str("LOG_LEVEL", "info"),
			Format: env.str("LOG_FORMAT", "console"),
		},
		SearchDebounce: env.duration("LOOPYNC_SEARCH_DEBOUNCE", 300*time.Millisecond),
		Notifications:  env.boolean("LOOPYNC_NOTIFICATIONS", true),
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that cannot work. A missing backend URL is not an
// error.
func Validate(cfg *Config) error {
	if cfg.Reconnect.Delay < 0 || cfg.Reconnect.Jitter < 0 {
		return fmt.Errorf("LOOPYNC_RECONNECT_DELAY and LOOPYNC_RECONNECT_JITTER must not be negative")
	}
	if cfg.Calls.MaxPending < 1 {
		return fmt.Errorf("LOOPYNC_MAX_PENDING_CALLS must be at least 1")
	}
	if cfg.SearchDebounce <= 0 {
		return fmt.Errorf("LOOPYNC_SEARCH_DEBOUNCE must be positive")
	}
	if cfg.Bridge.Addr == "" {
		return fmt.Errorf("LOOPYNC_BRIDGE_ADDR is required")
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", cfg.Log.Format)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "loopync")
	}
	return ".loopync"
}

// envReader reads typed variables and collects the ones that fail to parse.
type envReader struct {
	errs []error
}

func (r *envReader) str(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func (r *envReader) boolean(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return defaultValue
	}
	return b
}

// duration accepts Go durations ("1500ms") or bare milliseconds.
func (r *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", key, value))
	return defaultValue
}

func (r *envReader) list(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
