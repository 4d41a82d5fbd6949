// Package config loads and validates the tempofy configuration from
// ~/.config/tempofy/config.json, falling back to the bundled defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JiraConfig holds issue-tracker credentials for ticket listing.
type JiraConfig struct {
	Domain   string `json:"domain"`    // e.g. "example.atlassian.net"
	Email    string `json:"email"`     // Account email for Basic auth
	APIToken string `json:"api_token"` // API token paired with the email
	Enabled  bool   `json:"enabled"`
}

// GraphConfig holds the Microsoft Graph settings used for meeting
// enrichment. Enrichment is best-effort; an empty or disabled config simply
// leaves calls named after their window title.
type GraphConfig struct {
	TenantID       string `json:"tenant_id"`
	ClientID       string `json:"client_id"`
	AccessToken    string `json:"access_token,omitempty"` // Saved after device-code auth
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Enabled        bool   `json:"enabled"`
}

// Config holds all daemon configuration.
type Config struct {
	// AppHints are substrings matched case-insensitively against the
	// foreground window's owner name or title to decide whether the sample
	// belongs to the monitored conferencing app at all.
	AppHints []string `json:"app_hints"`

	PollInterval int `json:"poll_interval_seconds"` // Sampler cadence

	// Consecutive confirming samples required to flip call state. Both
	// default to 1, matching the single-sample transition of the original
	// monitor; raising them trades detection latency for flicker immunity.
	StartConfirmations int `json:"start_confirmations"`
	StopConfirmations  int `json:"stop_confirmations"`

	// AutoTrackCalls controls whether a detected call preempts the running
	// timer. When false, calls are still detected and surfaced but the
	// timer is left alone.
	AutoTrackCalls bool `json:"auto_track_calls"`

	Jira  *JiraConfig  `json:"jira,omitempty"`
	Graph *GraphConfig `json:"graph,omitempty"`
}

// ConfigDir returns the user configuration directory.
func ConfigDir() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "tempofy")
}

// Load reads configuration from ~/.config/tempofy/config.json, falling back
// to configs/default-config.json when no user config exists yet.
func Load() (*Config, error) {
	userPath := filepath.Join(ConfigDir(), "config.json")

	data, err := os.ReadFile(userPath)
	if err != nil {
		if os.IsNotExist(err) {
			data, err = os.ReadFile("configs/default-config.json")
			if err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
			if err := os.MkdirAll(ConfigDir(), 0755); err != nil {
				return nil, fmt.Errorf("failed to create config directory: %w", err)
			}
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes configuration to ~/.config/tempofy/config.json.
func Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(ConfigDir(), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ConfigDir(), "config.json"), data, 0644)
}

// applyDefaults fills zero-valued fields so hand-edited configs stay valid.
func (c *Config) applyDefaults() {
	if len(c.AppHints) == 0 {
		c.AppHints = []string{"Microsoft Teams", "MSTeams", "Teams"}
	}
	if c.PollInterval == 0 {
		c.PollInterval = 3
	}
	if c.StartConfirmations == 0 {
		c.StartConfirmations = 1
	}
	if c.StopConfirmations == 0 {
		c.StopConfirmations = 1
	}
	if c.Graph != nil && c.Graph.TimeoutSeconds == 0 {
		c.Graph.TimeoutSeconds = 10
	}
}

// Validate checks Config for validity.
func (c *Config) Validate() error {
	if c.PollInterval < 1 || c.PollInterval > 10 {
		return fmt.Errorf("poll_interval_seconds must be between 1 and 10, got %d", c.PollInterval)
	}

	if c.StartConfirmations < 1 || c.StartConfirmations > 10 {
		return fmt.Errorf("start_confirmations must be between 1 and 10, got %d", c.StartConfirmations)
	}

	if c.StopConfirmations < c.StartConfirmations {
		return fmt.Errorf("stop_confirmations (%d) must be >= start_confirmations (%d)", c.StopConfirmations, c.StartConfirmations)
	}

	if len(c.AppHints) == 0 {
		return fmt.Errorf("at least one app hint is required")
	}

	if c.Jira != nil && c.Jira.Enabled {
		if c.Jira.Domain == "" || c.Jira.Email == "" || c.Jira.APIToken == "" {
			return fmt.Errorf("jira requires domain, email and api_token when enabled")
		}
	}

	if c.Graph != nil && c.Graph.Enabled {
		if c.Graph.TenantID == "" || c.Graph.ClientID == "" {
			return fmt.Errorf("graph requires tenant_id and client_id when enabled")
		}
	}

	return nil
}
