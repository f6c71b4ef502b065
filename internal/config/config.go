// Package config provides configuration loading and structs for the Ronbun server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Session SessionConfig `yaml:"session"`
	Search  SearchConfig  `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the paper cache, indices, and working directories.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	ConceptMapsDir string `yaml:"concept_maps_dir"`
	IndexRoot      string `yaml:"index_root"`
	PapersDir      string `yaml:"papers_dir"`
	CloneDir       string `yaml:"clone_dir"`
}

// GeminiConfig holds Gemini API settings. APIKey falls back to the
// GEMINI_API_KEY environment variable when unset in the file.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// SessionConfig holds session lifetime settings.
type SessionConfig struct {
	MaxIdleHours int `yaml:"max_idle_hours"`
	SweepMinutes int `yaml:"sweep_minutes"`
}

// SearchConfig holds paper search and code retrieval settings.
type SearchConfig struct {
	MaxOptions  int      `yaml:"max_options"`
	ChatResults int      `yaml:"chat_results"`
	MaxFileKB   int      `yaml:"max_file_kb"`
	Extensions  []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.ConceptMapsDir = expandPath(cfg.Storage.ConceptMapsDir, configDir)
	cfg.Storage.IndexRoot = expandPath(cfg.Storage.IndexRoot, configDir)
	cfg.Storage.PapersDir = expandPath(cfg.Storage.PapersDir, configDir)
	cfg.Storage.CloneDir = expandPath(cfg.Storage.CloneDir, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
