package adapter

import (
	"fmt"
	"sort"

	"github.com/zen-systems/thinkgate/pkg/config"
)

// NewFromConfig builds the adapter registered under name using the API keys
// in cfg.
func NewFromConfig(name string, cfg *config.Config) (Adapter, error) {
	switch name {
	case "mock":
		return NewMockAdapter(), nil
	case "anthropic":
		return NewAnthropicAdapter(cfg.AnthropicAPIKey)
	case "openai":
		return NewOpenAIAdapter(cfg.OpenAIAPIKey)
	case "google":
		return NewGoogleAdapter(cfg.GoogleAPIKey)
	case "deepseek":
		return NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
	default:
		return nil, &config.ConfigurationError{Field: "generation.adapter", Reason: fmt.Sprintf("unknown adapter %q", name)}
	}
}

// Available returns every adapter that has credentials in cfg, keyed by name.
func Available(cfg *config.Config) map[string]Adapter {
	adapters := map[string]Adapter{"mock": NewMockAdapter()}
	for _, name := range []string{"anthropic", "openai", "google", "deepseek"} {
		if !cfg.HasAdapter(name) {
			continue
		}
		if a, err := NewFromConfig(name, cfg); err == nil {
			adapters[name] = a
		}
	}
	return adapters
}

// Names returns the sorted adapter names of a registry.
func Names(adapters map[string]Adapter) []string {
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
