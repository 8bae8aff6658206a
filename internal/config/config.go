package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL            = "http://localhost:5012"
	defaultDownloadDir        = "downloads"
	defaultRequestTimeout     = 30 * time.Second
	defaultLogLevel           = "info"
	defaultPort               = 5012
	defaultDataDir            = "data"
	defaultMaxConcurrentTasks = 3
	defaultStepDelay          = 500 * time.Millisecond
)

var defaultExtensions = []string{".xlsx", ".xlsm"}

// Config describes runtime configuration for the client and the stand-in service.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	DownloadDir    string        `yaml:"download_dir"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	Server         ServerConfig  `yaml:"server"`
}

// ServerConfig configures `sheetmap serve`.
type ServerConfig struct {
	Port               int           `yaml:"port"`
	DataDir            string        `yaml:"data_dir"`
	AllowedExtensions  []string      `yaml:"allowed_extensions"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	StepDelay          time.Duration `yaml:"step_delay"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		BaseURL:        defaultBaseURL,
		DownloadDir:    defaultDownloadDir,
		RequestTimeout: defaultRequestTimeout,
		LogLevel:       defaultLogLevel,
		Server: ServerConfig{
			Port:               defaultPort,
			DataDir:            defaultDataDir,
			AllowedExtensions:  append([]string(nil), defaultExtensions...),
			MaxConcurrentTasks: defaultMaxConcurrentTasks,
			StepDelay:          defaultStepDelay,
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is chosen by the user
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, cfg.normalize()
}

func (c *Config) normalize() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("invalid base_url %q: must start with http:// or https://", c.BaseURL)
	}
	if c.DownloadDir == "" {
		c.DownloadDir = defaultDownloadDir
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}

	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = defaultDataDir
	}
	// values < 1 are rejected rather than silently corrected
	if c.Server.MaxConcurrentTasks < 1 {
		return fmt.Errorf("invalid max_concurrent_tasks: %d (must be >= 1)", c.Server.MaxConcurrentTasks)
	}
	if c.Server.StepDelay < 0 {
		return fmt.Errorf("invalid step_delay: %s", c.Server.StepDelay)
	}
	c.Server.AllowedExtensions = normalizeExtensions(c.Server.AllowedExtensions)
	return nil
}

func normalizeExtensions(in []string) []string {
	if len(in) == 0 {
		return append([]string(nil), defaultExtensions...)
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, ext := range in {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		normalized = append(normalized, e)
	}
	return normalized
}
