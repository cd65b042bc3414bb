// Package config handles configuration loading and validation for courier.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file.
const (
	EnvAppID       = "COURIER_APP_ID"
	EnvProviderID  = "COURIER_PROVIDER_ID"
	EnvAuthKey     = "COURIER_AUTH_KEY"
	EnvIdentityURL = "COURIER_IDENTITY_URL"
)

// Config holds the application configuration.
type Config struct {
	AppID        string            `yaml:"app_id"`
	ProviderID   string            `yaml:"provider_id"`
	AuthKey      string            `yaml:"auth_key"`
	Identity     IdentityConfig    `yaml:"identity"`
	NonceTTL     time.Duration     `yaml:"nonce_ttl"`
	Outbox       OutboxConfig      `yaml:"outbox"`
	DisplayNames map[string]string `yaml:"display_names"`
	DataDir      string            `yaml:"-"` // set by caller, not from config file
}

// IdentityConfig configures the identity provider.
type IdentityConfig struct {
	// URL of the identity provider. When empty, an embedded provider is
	// started on a loopback port for each command.
	URL string `yaml:"url"`
	// Listen is the address used by `courier identity serve`.
	Listen string `yaml:"listen"`
	// TokenTTL bounds the lifetime of issued identity tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
	// AppIDs accepted by the provider. Defaults to the configured app_id.
	AppIDs []string `yaml:"app_ids"`
}

// OutboxConfig configures the push notification outbox.
type OutboxConfig struct {
	MaxPending int `yaml:"max_pending"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AppID:      "courier-local",
		ProviderID: "courier-local",
		Identity: IdentityConfig{
			Listen:   "127.0.0.1:7777",
			TokenTTL: 10 * time.Minute,
		},
		NonceTTL: 5 * time.Minute,
		Outbox: OutboxConfig{
			MaxPending: 1000,
		},
		DisplayNames: map[string]string{},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided
// dataDir. Environment variables override file values.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.DataDir = dataDir
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnv overrides credentials from the environment.
func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvAppID, &c.AppID},
		{EnvProviderID, &c.ProviderID},
		{EnvAuthKey, &c.AuthKey},
		{EnvIdentityURL, &c.Identity.URL},
	}

	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			*o.dst = v
		}
	}
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Identity.Listen == "" {
		c.Identity.Listen = defaults.Identity.Listen
	}
	if c.Identity.TokenTTL == 0 {
		c.Identity.TokenTTL = defaults.Identity.TokenTTL
	}
	if len(c.Identity.AppIDs) == 0 && c.AppID != "" {
		c.Identity.AppIDs = []string{c.AppID}
	}
	if c.NonceTTL == 0 {
		c.NonceTTL = defaults.NonceTTL
	}
	if c.Outbox.MaxPending == 0 {
		c.Outbox.MaxPending = defaults.Outbox.MaxPending
	}
	if c.DisplayNames == nil {
		c.DisplayNames = map[string]string{}
	}
}

// DisplayName returns the configured display name for identity, or identity
// itself.
func (c *Config) DisplayName(identity string) string {
	if name, ok := c.DisplayNames[identity]; ok && name != "" {
		return name
	}
	return identity
}

// ConversationsFile returns the path to the conversations JSON file.
func (c *Config) ConversationsFile() string {
	return filepath.Join(c.DataDir, "conversations.json")
}

// MessagesDir returns the directory holding per-conversation message files.
func (c *Config) MessagesDir() string {
	return filepath.Join(c.DataDir, "messages")
}

// OutboxDir returns the directory holding push outbox files.
func (c *Config) OutboxDir() string {
	return filepath.Join(c.DataDir, "outbox")
}
