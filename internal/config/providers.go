package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderSettings holds the per-provider pacing delay applied after each call.
type ProviderSettings struct {
	PacingDelay time.Duration `yaml:"pacing_delay"`
}

// ProvidersConfig maps provider id to its settings. The "default" entry covers
// providers without an explicit one.
type ProvidersConfig struct {
	Providers map[string]ProviderSettings `yaml:"providers"`
}

// DefaultProvidersConfig returns the built-in pacing table.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{Providers: map[string]ProviderSettings{
		"openai":     {PacingDelay: 400 * time.Millisecond},
		"gemini":     {PacingDelay: 500 * time.Millisecond},
		"perplexity": {PacingDelay: 600 * time.Millisecond},
		"anthropic":  {PacingDelay: 500 * time.Millisecond},
		"default":    {PacingDelay: 500 * time.Millisecond},
	}}
}

// LoadProvidersConfig merges an optional YAML override file over the built-in
// defaults. An empty path returns the defaults unchanged.
func LoadProvidersConfig(path string) (ProvidersConfig, error) {
	cfg := DefaultProvidersConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("op=config.LoadProvidersConfig: %w", err)
	}
	var overlay ProvidersConfig
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return cfg, fmt.Errorf("op=config.LoadProvidersConfig: %w", err)
	}
	for name, s := range overlay.Providers {
		if s.PacingDelay > 0 {
			cfg.Providers[name] = s
		}
	}
	return cfg, nil
}

// PacingDelay returns the post-call delay for a provider, falling back to the
// default entry.
func (p ProvidersConfig) PacingDelay(provider string) time.Duration {
	if s, ok := p.Providers[provider]; ok && s.PacingDelay > 0 {
		return s.PacingDelay
	}
	return p.Providers["default"].PacingDelay
}
