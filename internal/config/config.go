// Package config provides configuration loading and structs for the
// patent-insight server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Segmenter SegmenterConfig `yaml:"segmenter"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Report    ReportConfig    `yaml:"report"`
	Registry  RegistryConfig  `yaml:"registry"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SegmenterConfig holds chunking settings. Budget and overlap are in
// characters.
type SegmenterConfig struct {
	ChunkBudget  int `yaml:"chunk_budget"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// AnalysisConfig holds stage orchestration settings.
type AnalysisConfig struct {
	Model               string             `yaml:"model"`
	MaxAttempts         int                `yaml:"max_attempts"`
	BackoffBaseMS       int                `yaml:"backoff_base_ms"`
	CallTimeoutSeconds  int                `yaml:"call_timeout_seconds"`
	RunTimeoutSeconds   int                `yaml:"run_timeout_seconds"`
	MaxInFlight         int64              `yaml:"max_in_flight"`
	SimilarityThreshold float64            `yaml:"similarity_threshold"`
	Stages              []string           `yaml:"stages"`
	Weights             map[string]float64 `yaml:"weights"`
}

func (a AnalysisConfig) BackoffBase() time.Duration {
	return time.Duration(a.BackoffBaseMS) * time.Millisecond
}

func (a AnalysisConfig) CallTimeout() time.Duration {
	return time.Duration(a.CallTimeoutSeconds) * time.Second
}

func (a AnalysisConfig) RunTimeout() time.Duration {
	return time.Duration(a.RunTimeoutSeconds) * time.Second
}

// ReportConfig holds cross-reference settings.
type ReportConfig struct {
	SubjectSimilarity float64 `yaml:"subject_similarity"`
}

// RegistryConfig holds Google Patents fetcher settings.
type RegistryConfig struct {
	BaseURL            string `yaml:"base_url"`
	MaxAttempts        int    `yaml:"max_attempts"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// WatchlistConfig holds the watchlist database location.
type WatchlistConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Load reads and parses the config file at path and applies defaults.
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
	cfg.Watchlist.DatabasePath = expandPath(cfg.Watchlist.DatabasePath, configDir)

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults fills zero-valued fields with working defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8084
	}
	if cfg.Segmenter.ChunkBudget == 0 {
		cfg.Segmenter.ChunkBudget = 12000
	}
	if cfg.Segmenter.ChunkOverlap < 0 {
		cfg.Segmenter.ChunkOverlap = 0
	}
	if cfg.Analysis.MaxAttempts == 0 {
		cfg.Analysis.MaxAttempts = 3
	}
	if cfg.Analysis.BackoffBaseMS == 0 {
		cfg.Analysis.BackoffBaseMS = 1000
	}
	if cfg.Analysis.CallTimeoutSeconds == 0 {
		cfg.Analysis.CallTimeoutSeconds = 90
	}
	if cfg.Analysis.RunTimeoutSeconds == 0 {
		cfg.Analysis.RunTimeoutSeconds = 600
	}
	if cfg.Analysis.MaxInFlight == 0 {
		cfg.Analysis.MaxInFlight = 3
	}
	if cfg.Analysis.SimilarityThreshold == 0 {
		cfg.Analysis.SimilarityThreshold = 0.85
	}
	if len(cfg.Analysis.Stages) == 0 {
		cfg.Analysis.Stages = []string{"BIOLOGICAL", "CHEMICAL", "INNOVATION"}
	}
	if cfg.Report.SubjectSimilarity == 0 {
		cfg.Report.SubjectSimilarity = 0.5
	}
	if cfg.Registry.BaseURL == "" {
		cfg.Registry.BaseURL = "https://patents.google.com"
	}
	if cfg.Registry.MaxAttempts == 0 {
		cfg.Registry.MaxAttempts = 3
	}
	if cfg.Registry.RateLimitPerMinute == 0 {
		cfg.Registry.RateLimitPerMinute = 30
	}
	if cfg.Watchlist.DatabasePath == "" {
		cfg.Watchlist.DatabasePath = "patent-insight.db"
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths resolve against the
// working directory as-is.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	return path
}
