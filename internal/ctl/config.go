package ctl

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileConfig is storyctl's optional config file at
// ~/.config/storyctl/config.yaml. Flags and environment variables take
// precedence over it.
type FileConfig struct {
	BaseURL     string `yaml:"base_url"`
	DatabaseURL string `yaml:"database_url"`
}

const defaultBaseURL = "http://localhost:8080"

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "storyctl", "config.yaml"), nil
}

// loadFileConfig reads the config file if present; a missing file yields
// the zero config, not an error.
func loadFileConfig() (*FileConfig, error) {
	cfg := &FileConfig{}

	path, err := configPath()
	if err != nil {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfig fills any flag the user left at its default from the
// environment, then the config file.
func resolveConfig() error {
	fileCfg, err := loadFileConfig()
	if err != nil {
		return err
	}

	if baseURL == defaultBaseURL {
		if env := os.Getenv("BASE_URL"); env != "" {
			baseURL = env
		} else if fileCfg.BaseURL != "" {
			baseURL = fileCfg.BaseURL
		}
	}
	if databaseURL == "" {
		if env := os.Getenv("DATABASE_URL"); env != "" {
			databaseURL = env
		} else if fileCfg.DatabaseURL != "" {
			databaseURL = fileCfg.DatabaseURL
		}
	}
	return nil
}
