package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"LOOPYNC_BACKEND_URL", "REACT_APP_BACKEND_URL", "LOOPYNC_RECONNECT_ATTEMPTS", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.URL != "" {
		t.Errorf("Backend.URL = %q, want empty", cfg.Backend.URL)
	}
	if cfg.Reconnect.Attempts != 5 || cfg.Reconnect.Delay != time.Second {
		t.Errorf("Reconnect = %+v, want 5 attempts / 1s", cfg.Reconnect)
	}
	if cfg.Bridge.Addr != "127.0.0.1:8090" {
		t.Errorf("Bridge.Addr = %q", cfg.Bridge.Addr)
	}
	if cfg.SearchDebounce != 300*time.Millisecond {
		t.Errorf("SearchDebounce = %v", cfg.SearchDebounce)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LOOPYNC_BACKEND_URL", "")
	t.Setenv("REACT_APP_BACKEND_URL", "https://api.loopync.app/")
	t.Setenv("LOOPYNC_RECONNECT_ATTEMPTS", "8")
	t.Setenv("LOOPYNC_RECONNECT_DELAY", "250")
	t.Setenv("LOOPYNC_RECONNECT_JITTER", "1s")
	t.Setenv("LOOPYNC_STUN_URLS", "stun:a:3478, stun:b:3478")
	t.Setenv("LOOPYNC_SIGNAL_REJECT", "true")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.URL != "https://api.loopync.app" {
		t.Errorf("Backend.URL = %q, want fallback without trailing slash", cfg.Backend.URL)
	}
	want := ReconnectConfig{Attempts: 8, Delay: 250 * time.Millisecond, Jitter: time.Second}
	if cfg.Reconnect != want {
		t.Errorf("Reconnect = %+v, want %+v", cfg.Reconnect, want)
	}
	if len(cfg.Media.STUNURLs) != 2 || cfg.Media.STUNURLs[1] != "stun:b:3478" {
		t.Errorf("STUNURLs = %v", cfg.Media.STUNURLs)
	}
	if !cfg.Calls.SignalReject || cfg.Log.Format != "json" {
		t.Errorf("Calls = %+v Log = %+v", cfg.Calls, cfg.Log)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Bridge:         BridgeConfig{Addr: "127.0.0.1:8090"},
			Calls:          CallsConfig{MaxPending: 1},
			Log:            LogConfig{Format: "console"},
			SearchDebounce: time.Millisecond,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "negative delay", mutate: func(c *Config) { c.Reconnect.Delay = -1 }, wantErr: true},
		{name: "no pending slots", mutate: func(c *Config) { c.Calls.MaxPending = 0 }, wantErr: true},
		{name: "zero debounce", mutate: func(c *Config) { c.SearchDebounce = 0 }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := Validate(cfg); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"LOOPYNC_RECONNECT_ATTEMPTS", "abc"},
		{"LOOPYNC_RECONNECT_DELAY", "soon"},
		{"LOOPYNC_SIGNAL_REJECT", "maybe"},
		{"LOOPYNC_MAX_PENDING_CALLS", "4.5"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() accepted %s=%q", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}
