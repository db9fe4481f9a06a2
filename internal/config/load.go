package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables that override credentials from the config file.
const (
	EnvRecognitionAPIKey   = "SONGSCOUT_RECOGNITION_API_KEY"
	EnvCatalogClientID     = "SONGSCOUT_CATALOG_CLIENT_ID"
	EnvCatalogClientSecret = "SONGSCOUT_CATALOG_CLIENT_SECRET"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
// Credential environment variables win over file values.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Loaded{
				Path:   resolvedPath,
				Config: applyEnv(base),
				Warnings: []Warning{{
					Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
				}},
				Exists: false,
			}, nil
		}
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	cfg, warnings, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   applyEnv(cfg),
		Warnings: warnings,
		Exists:   true,
	}, nil
}

func applyEnv(cfg Config) Config {
	if value, ok := lookupEnv(EnvRecognitionAPIKey); ok {
		cfg.Recognition.APIKey = value
	}
	if value, ok := lookupEnv(EnvCatalogClientID); ok {
		cfg.Catalog.ClientID = value
	}
	if value, ok := lookupEnv(EnvCatalogClientSecret); ok {
		cfg.Catalog.ClientSecret = value
	}
	return cfg
}

func lookupEnv(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}
