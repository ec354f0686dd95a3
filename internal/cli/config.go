package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Environment variables that override profile settings.
const (
	EnvAPIHost       = "GROWTHBOOK_API_HOST"
	EnvClientKey     = "GROWTHBOOK_CLIENT_KEY"
	EnvDecryptionKey = "GROWTHBOOK_DECRYPTION_KEY"
)

// Config represents the CLI configuration file.
type Config struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile holds the connection settings for one GrowthBook SDK connection.
type Profile struct {
	APIHost       string `yaml:"api_host"`
	ClientKey     string `yaml:"client_key"`
	DecryptionKey string `yaml:"decryption_key,omitempty"`
}

// ProfileNames returns the configured profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".growthbook", "config.yaml"), nil
}

// LoadConfig loads the configuration from file. A missing file yields an
// empty configuration.
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{
				DefaultProfile: "default",
				Profiles:       make(map[string]Profile),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ResolveProfile returns the effective connection settings.
// Priority: command flags > environment variables > config file.
// Each field is resolved on its own, so a flag can override a single value
// of a stored profile. It returns the profile name that was consulted.
func ResolveProfile(profileName string, flags Profile) (*Profile, string, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, "", err
	}

	if profileName == "" {
		profileName = cfg.DefaultProfile
	}
	stored, found := cfg.Profiles[profileName]

	p := Profile{
		APIHost:       firstNonEmpty(flags.APIHost, os.Getenv(EnvAPIHost), stored.APIHost),
		ClientKey:     firstNonEmpty(flags.ClientKey, os.Getenv(EnvClientKey), stored.ClientKey),
		DecryptionKey: firstNonEmpty(flags.DecryptionKey, os.Getenv(EnvDecryptionKey), stored.DecryptionKey),
	}

	if p.APIHost == "" || p.ClientKey == "" {
		if !found && profileName != "" {
			return nil, "", fmt.Errorf("profile '%s' not found in config and no connection flags given", profileName)
		}
		return nil, "", fmt.Errorf("api_host and client_key must be configured (profile '%s', --api-host/--client-key or %s/%s)",
			profileName, EnvAPIHost, EnvClientKey)
	}
	return &p, profileName, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// InitConfig creates a config file with a placeholder default profile.
func InitConfig() error {
	cfg := &Config{
		DefaultProfile: "default",
		Profiles: map[string]Profile{
			"default": {
				APIHost:   "https://cdn.growthbook.io",
				ClientKey: "sdk-replace-me",
			},
		},
	}
	return SaveConfig(cfg)
}
