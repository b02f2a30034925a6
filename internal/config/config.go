// Package config loads daemon configuration: defaults, then the JSON
// config file, then environment variables, highest precedence last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

type LLMConfig struct {
	BaseURL     string  `json:"base_url" envconfig:"OPENAI_BASE_URL"`
	APIKey      string  `json:"api_key" envconfig:"OPENAI_API_KEY"`
	Model       string  `json:"model" envconfig:"SAGECODEX_MODEL"`
	MaxTokens   int     `json:"max_tokens" envconfig:"SAGECODEX_MAX_TOKENS"`
	Temperature float32 `json:"temperature" envconfig:"SAGECODEX_TEMPERATURE"`
	Timeout     int     `json:"timeout_seconds" envconfig:"SAGECODEX_LLM_TIMEOUT"`
}

type Config struct {
	DataDir       string `json:"data_dir" envconfig:"SAGECODEX_DATA_DIR"`
	Port          string `json:"port" envconfig:"SAGECODEX_PORT"`
	LogLevel      string `json:"log_level" envconfig:"LOG_LEVEL"`
	JWTSecret     string `json:"jwt_secret" envconfig:"SAGECODEX_JWT_SECRET"`
	MaxConcurrent int    `json:"max_concurrent" envconfig:"SAGECODEX_MAX_CONCURRENT"`
	MaxToolRounds int    `json:"max_tool_rounds" envconfig:"SAGECODEX_MAX_TOOL_ROUNDS"`

	// Stale-session sweeping. Schedule is a cron expression; TTL is in
	// hours of inactivity before an active session is deactivated.
	SweepSchedule   string `json:"sweep_schedule" envconfig:"SAGECODEX_SWEEP_SCHEDULE"`
	SessionTTLHours int    `json:"session_ttl_hours" envconfig:"SAGECODEX_SESSION_TTL_HOURS"`

	CORSOrigins []string `json:"cors_origins" envconfig:"SAGECODEX_CORS_ORIGINS"`

	LLM LLMConfig `json:"llm"`
}

// Load reads the config at path, writing defaults there on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:         filepath.Join(os.Getenv("HOME"), ".sagecodex"),
		Port:            "8080",
		LogLevel:        "info",
		MaxConcurrent:   2,
		MaxToolRounds:   5,
		SweepSchedule:   "@hourly",
		SessionTTLHours: 72,
		CORSOrigins:     []string{"*"},
	}
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.Timeout = 60

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Environment overrides take precedence over the file.
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
