// Package syncconfig manages sync-related configuration and auth
// credentials stored under ~/.config/todoless/. Environment variables
// take priority over files so scripts and tests can override without
// touching state on disk.
package syncconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL      string `json:"url"`
	Enabled  bool   `json:"enabled"`
	Debounce string `json:"debounce,omitempty"`  // duration string, default "3s"
	MaxDelay string `json:"max_delay,omitempty"` // backoff ceiling, default "2m"
	Realtime *bool  `json:"realtime,omitempty"`  // nil = default true
}

// Config is the global todoless config stored at ~/.config/todoless/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/todoless/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	ServerURL string `json:"server_url"`
	DeviceID  string `json:"device_id"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/todoless, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "todoless")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/todoless/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config to ~/.config/todoless/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials from ~/.config/todoless/auth.json.
// Returns (nil, nil) when no credentials are stored.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials to ~/.config/todoless/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: TODOLESS_SYNC_URL env > auth.json > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("TODOLESS_SYNC_URL"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: TODOLESS_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("TODOLESS_AUTH_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetDeviceID returns the device ID from auth.json, generating one if needed.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	return GenerateDeviceID()
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

// GetSyncEnabled returns whether sync is turned on at all.
// Priority: TODOLESS_SYNC env > config.json sync.enabled > false
func GetSyncEnabled() bool {
	if v := parseBoolEnv("TODOLESS_SYNC"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.Sync.Enabled
	}
	return false
}

// GetDebounce returns the delay between a mutation and the flush that
// pushes it.
// Priority: TODOLESS_SYNC_DEBOUNCE env > config.json sync.debounce > 3s
func GetDebounce() time.Duration {
	if v := os.Getenv("TODOLESS_SYNC_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Debounce != "" {
		if d, err := time.ParseDuration(cfg.Sync.Debounce); err == nil {
			return d
		}
	}
	return 3 * time.Second
}

// GetMaxDelay returns the backoff ceiling between failed flushes.
// Priority: TODOLESS_SYNC_MAX_DELAY env > config.json sync.max_delay > 2m
func GetMaxDelay() time.Duration {
	if v := os.Getenv("TODOLESS_SYNC_MAX_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.MaxDelay != "" {
		if d, err := time.ParseDuration(cfg.Sync.MaxDelay); err == nil {
			return d
		}
	}
	return 2 * time.Minute
}

// GetRealtimeEnabled returns whether the websocket event channel should
// be used for long-running commands.
// Priority: TODOLESS_SYNC_REALTIME env > config.json sync.realtime > true
func GetRealtimeEnabled() bool {
	if v := parseBoolEnv("TODOLESS_SYNC_REALTIME"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Realtime != nil {
		return *cfg.Sync.Realtime
	}
	return true
}
