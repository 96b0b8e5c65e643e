package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type config struct {
	Port       string `yaml:"port"`
	BackendURL string `yaml:"backendURL"`
	Project    string `yaml:"project"`
	GroqAPIKey string `yaml:"groqAPIKey"`
}

// loadConfig reads the YAML config at path. A missing file is fine as long as the environment
// fills in the backend URL, so containerized runs do not need a config file at all.
func loadConfig(path string) (config, error) {
	cfg := config{}

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	if cfg.Port == "" {
		cfg.Port = "8100"
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = os.Getenv("KB_BACKEND_URL")
	}
	if cfg.GroqAPIKey == "" {
		cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	}

	if cfg.BackendURL == "" {
		return config{}, fmt.Errorf("backendURL is required")
	}

	return cfg, nil
}
