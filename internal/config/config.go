// Package config loads gateway configuration from an optional YAML file
// layered under ATP_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	OpenAI   OpenAIConfig   `koanf:"openai"`
	Dispatch DispatchConfig `koanf:"dispatch"`
	Verify   VerifyConfig   `koanf:"verify"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type OpenAIConfig struct {
	// APIKey empty means the model-based scorer is disabled and the
	// rule-based scorer runs alone.
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

type DispatchConfig struct {
	// WebhookURL is the standard execution endpoint; HighRiskWebhookURL,
	// when set, receives high-risk actions instead.
	WebhookURL         string        `koanf:"webhook_url"`
	HighRiskWebhookURL string        `koanf:"high_risk_webhook_url"`
	Timeout            time.Duration `koanf:"timeout"`
}

type VerifyConfig struct {
	// HealthURL, when set, is probed after execution as the downstream
	// health check.
	HealthURL string `koanf:"health_url"`
}

// Load reads the YAML file at path (when present) and the environment.
// Environment variables win: ATP_DISPATCH_WEBHOOK_URL maps to
// dispatch.webhook_url.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("server.port", 8080)
	k.Set("server.request_timeout", "60s")
	k.Set("store.path", "./data/atp.db")
	k.Set("openai.model", "gpt-4o")
	k.Set("openai.timeout", "30s")
	k.Set("dispatch.timeout", "30s")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("ATP_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "ATP_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
