package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	aliases := &ModelAliases{
		Aliases: map[string]string{
			"tutor": "claude-sonnet-4-20250514",
			"cheap": "deepseek-chat",
		},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "resolve known alias", input: "tutor", expected: "claude-sonnet-4-20250514"},
		{name: "resolve another alias", input: "cheap", expected: "deepseek-chat"},
		{name: "unknown alias returns input unchanged", input: "unknown-model", expected: "unknown-model"},
		{name: "empty stays empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := aliases.Resolve(tt.input); got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolve_NilAliases(t *testing.T) {
	var aliases *ModelAliases
	if got := aliases.Resolve("x"); got != "x" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestResolveGeneration(t *testing.T) {
	aliases := DefaultAliases()

	model, err := aliases.ResolveGeneration(GenerationConfig{Adapter: "deepseek", Model: "reason"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if model != "deepseek-reasoner" {
		t.Fatalf("expected deepseek-reasoner, got %q", model)
	}

	model, err = aliases.ResolveGeneration(GenerationConfig{Adapter: "google"})
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if model != "gemini-2.0-pro" {
		t.Fatalf("expected first google model, got %q", model)
	}

	_, err = aliases.ResolveGeneration(GenerationConfig{Adapter: "openai", Model: "deepseek-chat"})
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	model, err = aliases.ResolveGeneration(GenerationConfig{Adapter: "mock", Model: "anything"})
	if err != nil || model != "anything" {
		t.Fatalf("mock adapter should accept any model, got %q %v", model, err)
	}
}

func TestLoadAliasesFromDir(t *testing.T) {
	dir := t.TempDir()

	aliases, err := LoadAliasesFromDir(dir)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if len(aliases.ListProviders()) != 4 {
		t.Fatalf("expected default providers, got %v", aliases.ListProviders())
	}

	content := "aliases:\n  mine: gpt-5.2-instant\nproviders:\n  openai:\n    - gpt-5.2-instant\n"
	if err := os.WriteFile(filepath.Join(dir, "models.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	aliases, err = LoadAliasesFromDir(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if aliases.Resolve("mine") != "gpt-5.2-instant" {
		t.Fatalf("expected alias from file")
	}
	if got := aliases.ListProviders(); len(got) != 1 || got[0] != "openai" {
		t.Fatalf("unexpected providers %v", got)
	}
}

func TestLoadAliases_FileNotFound(t *testing.T) {
	if _, err := LoadAliases("/nonexistent/models.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
