package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:8090"
	DefaultTimeout        = 30 * time.Second
	DefaultTokenStatePath = "configs/cli_state.json"
	DefaultHistoryFile    = ".judgebox_history"
	DefaultLanguage       = "python"
)

var defaultExtensions = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".c":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".java": "java",
}

// Config holds CLI configuration.
type Config struct {
	BaseURL         string            `yaml:"baseURL"`
	Timeout         time.Duration     `yaml:"timeout"`
	TokenStatePath  string            `yaml:"tokenStatePath"`
	HistoryFile     string            `yaml:"historyFile"`
	PrettyJSON      *bool             `yaml:"prettyJSON"`
	DefaultLanguage string            `yaml:"defaultLanguage"`
	Extensions      map[string]string `yaml:"extensions"`
}

// Load reads the yaml file at path. A missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file failed: %w", err)
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// LanguageFor infers the language id from a source file name.
func (c Config) LanguageFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := c.Extensions[ext]; ok {
		return lang
	}
	return c.DefaultLanguage
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TokenStatePath == "" {
		cfg.TokenStatePath = DefaultTokenStatePath
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = filepath.Join(os.TempDir(), DefaultHistoryFile)
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = DefaultLanguage
	}
	merged := make(map[string]string, len(defaultExtensions)+len(cfg.Extensions))
	for ext, lang := range defaultExtensions {
		merged[ext] = lang
	}
	for ext, lang := range cfg.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		merged[ext] = lang
	}
	cfg.Extensions = merged
}
