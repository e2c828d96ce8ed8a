package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelAliases maps short model names onto provider model identifiers.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads model aliases from a YAML file.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var aliases ModelAliases
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, err
	}

	if aliases.Aliases == nil {
		aliases.Aliases = make(map[string]string)
	}
	if aliases.Providers == nil {
		aliases.Providers = make(map[string][]string)
	}
	return &aliases, nil
}

// LoadAliasesFromDir loads models.yaml from configDir, falling back to
// DefaultAliases when the file does not exist.
func LoadAliasesFromDir(configDir string) (*ModelAliases, error) {
	path := filepath.Join(configDir, "models.yaml")
	if _, err := os.Stat(path); err != nil {
		return DefaultAliases(), nil
	}
	return LoadAliases(path)
}

// Resolve returns the canonical model name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// ValidateModel checks if a model exists in the provider's list.
func (a *ModelAliases) ValidateModel(adapter, model string) error {
	if a == nil || a.Providers == nil || adapter == "mock" {
		return nil
	}

	models, ok := a.Providers[adapter]
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}
	for _, m := range models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("model %q not in %s provider list", model, adapter)
}

// ResolveGeneration resolves the configured generation model. An empty model
// picks the provider's first listed model.
func (a *ModelAliases) ResolveGeneration(g GenerationConfig) (string, error) {
	model := a.Resolve(g.Model)
	if model == "" {
		if models := a.ProviderModels(g.Adapter); len(models) > 0 {
			return models[0], nil
		}
		return "", nil
	}
	if err := a.ValidateModel(g.Adapter, model); err != nil {
		return "", &ConfigurationError{Field: "generation.model", Reason: err.Error()}
	}
	return model, nil
}

// ListProviders returns a sorted list of provider names.
func (a *ModelAliases) ListProviders() []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	providers := make([]string, 0, len(a.Providers))
	for p := range a.Providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// ProviderModels returns the models for a given provider.
func (a *ModelAliases) ProviderModels(provider string) []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	return a.Providers[provider]
}

// DefaultAliases returns the default model aliases configuration.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"quick":    "claude-haiku-4-5",
			"tutor":    "claude-sonnet-4-20250514",
			"thinking": "gpt-5.2-thinking",
			"research": "gemini-2.0-pro",
			"reason":   "deepseek-reasoner",
			"cheap":    "deepseek-chat",
		},
		Providers: map[string][]string{
			"anthropic": {"claude-sonnet-4-20250514", "claude-haiku-4-5", "claude-opus-4-20250514"},
			"openai":    {"gpt-5.2-instant", "gpt-5.2-thinking"},
			"google":    {"gemini-2.0-pro", "gemini-2.0-flash"},
			"deepseek":  {"deepseek-chat", "deepseek-reasoner"},
		},
	}
}
