package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	Scheduler       *SchedulerConfig
	ConfigDir       string
	DataDir         string
}

// FileConfig represents the structure of ~/.thinkgate/config.yaml
type FileConfig struct {
	APIKeys APIKeysConfig `yaml:"api_keys"`
	DataDir string        `yaml:"data_dir,omitempty"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
	DeepSeek  string `yaml:"deepseek"`
}

// Load reads configuration from config files and environment variables.
// Environment variables take precedence over file configuration. A .env file
// in the working directory is loaded first when present.
func Load() (*Config, error) {
	return LoadWithSchedulerFile("")
}

// LoadWithSchedulerFile loads config with a specific scheduler file. An empty
// path falls back to scheduler.yaml in the config directory, then to defaults.
func LoadWithSchedulerFile(schedulerPath string) (*Config, error) {
	_ = godotenv.Load()

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	fileConfig := loadFileConfig(filepath.Join(configDir, "config.yaml"))

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		DeepSeekAPIKey:  getEnvOrDefault("DEEPSEEK_API_KEY", fileConfig.APIKeys.DeepSeek),
		ConfigDir:       configDir,
		DataDir:         getEnvOrDefault("THINKGATE_DATA_DIR", fileConfig.DataDir),
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}

	if schedulerPath == "" {
		candidate := filepath.Join(configDir, "scheduler.yaml")
		if _, err := os.Stat(candidate); err == nil {
			schedulerPath = candidate
		}
	}

	if schedulerPath != "" {
		scheduler, err := LoadSchedulerConfig(schedulerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load scheduler config from %s: %w", schedulerPath, err)
		}
		cfg.Scheduler = scheduler
	} else {
		cfg.Scheduler = DefaultSchedulerConfig()
	}

	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasAdapter returns true if the API key for the given adapter is configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

// SinkPath resolves the sink location, defaulting under the data directory.
func (c *Config) SinkPath() string {
	if c.Scheduler != nil && c.Scheduler.Sink.Path != "" {
		return c.Scheduler.Sink.Path
	}
	switch kind := c.Scheduler.Sink.Kind; kind {
	case "sqlite":
		return filepath.Join(c.DataDir, "sessions.db")
	case "badger":
		return filepath.Join(c.DataDir, "badger")
	default:
		return filepath.Join(c.DataDir, "sessions")
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, cfg)
	return cfg
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("THINKGATE_CONFIG_DIR"); dir != "" {
		return dir, os.MkdirAll(dir, 0755)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".thinkgate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}

// defaultDataDir honours XDG_DATA_HOME set after process start, which the
// xdg package only reads at init.
func defaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = xdg.DataHome
	}
	return filepath.Join(dataHome, "thinkgate")
}
