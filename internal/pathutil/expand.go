// Package pathutil resolves user-written filesystem paths from config:
// environment variables and the "~/" home shortcut.
package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves $VAR references and a leading "~" against the user's home
// directory and cleans the result. Empty input stays empty so callers can
// distinguish "unset" from a configured path.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
		}
	}

	return filepath.Clean(expanded), nil
}

// homeDir tries os.UserHomeDir, then the passwd entry, then $HOME, rejecting
// answers that are themselves unexpanded tildes (HOME=~ happens in broken
// container environments).
func homeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil {
		if h := strings.TrimSpace(home); usableHome(h) {
			return h, nil
		}
	}

	if current, err := user.Current(); err == nil {
		if h := strings.TrimSpace(current.HomeDir); usableHome(h) {
			return h, nil
		}
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if !usableHome(envHome) {
		return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
	}
	return envHome, nil
}

func usableHome(h string) bool {
	return h != "" && h != "~" && !strings.HasPrefix(h, "~/")
}
