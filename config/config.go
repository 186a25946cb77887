// Package config holds the environment-level configuration for one agent
// process. All knobs are plain environment variables so the same binary runs
// unchanged as a Cloud Function, a container, or a local process.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config enumerates every environment setting the agent consumes.
type Config struct {
	// Identity and collaborators.
	GCPProjectID  string `env:"GCP_PROJECT_ID"`
	SpreadsheetID string `env:"GOOGLE_SHEET_ID"`
	GrokAPIKey    string `env:"GROK_API_KEY"`
	TavilyAPIKey  string `env:"TAVILY_API_KEY"`

	GrokBaseURL string `env:"GROK_BASE_URL" envDefault:"https://api.x.ai/v1"`
	GrokModel   string `env:"GROK_MODEL" envDefault:"grok-4-0709"`

	// Secret retrieval.
	UseSecretManager bool `env:"USE_SECRET_MANAGER" envDefault:"true"`

	// Loop budgets.
	MaxReasoningSteps int           `env:"MAX_REASONING_STEPS" envDefault:"10"`
	MaxCycleDuration  time.Duration `env:"MAX_CYCLE_DURATION" envDefault:"8m"`
	HistoryWindow     int           `env:"HISTORY_WINDOW_CHARS" envDefault:"4000"`

	// Ledger layout.
	CashOnHandCell string `env:"CASH_ON_HAND_CELL" envDefault:"Portfolio Summary!B3"`

	// HTTP trigger.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
}

// Load parses configuration from the environment. Validation is separate so
// the caller can first fill missing API keys from Secret Manager.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings a cycle cannot run without.
func (c *Config) Validate() error {
	if c.SpreadsheetID == "" {
		return fmt.Errorf("GOOGLE_SHEET_ID is required")
	}
	if c.GrokAPIKey == "" {
		return fmt.Errorf("GROK_API_KEY is required")
	}
	if c.MaxReasoningSteps < 1 {
		return fmt.Errorf("MAX_REASONING_STEPS must be at least 1, got %d", c.MaxReasoningSteps)
	}
	if c.MaxCycleDuration <= 0 {
		return fmt.Errorf("MAX_CYCLE_DURATION must be positive, got %s", c.MaxCycleDuration)
	}
	if c.HistoryWindow < 100 {
		return fmt.Errorf("HISTORY_WINDOW_CHARS must be at least 100, got %d", c.HistoryWindow)
	}
	return nil
}
