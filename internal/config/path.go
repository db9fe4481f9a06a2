package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appDir = "songscout"

// ResolvePath returns explicit when set, else config.jsonc under the XDG config dir.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}
	dir, err := xdgDir("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.jsonc"), nil
}

// StateDir holds the log, the history database, and captured samples.
func StateDir() (string, error) {
	return xdgDir("XDG_STATE_HOME", ".local", "state")
}

// HistoryPath returns history.path or history.db under StateDir.
func HistoryPath(cfg Config) (string, error) {
	if path := strings.TrimSpace(cfg.History.Path); path != "" {
		return path, nil
	}
	return underState("history.db")
}

func SampleDir() (string, error) {
	return underState("samples")
}

func underState(name string) (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// xdgDir resolves $env/songscout, or ~/<homeRel...>/songscout when env is unset.
func xdgDir(env string, homeRel ...string) (string, error) {
	if base := strings.TrimSpace(os.Getenv(env)); base != "" {
		return filepath.Join(base, appDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%s unset and home unresolved: %w", env, err)
	}
	return filepath.Join(append(append([]string{home}, homeRel...), appDir)...), nil
}
