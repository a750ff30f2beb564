package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/go-homedir"
)

const platformDarwin = "darwin"

// Application directory name used across all platforms.
const appName = "gdrive-replicate"

const (
	configFileName  = "config.toml"
	tokenFileName   = "token.json"
	journalFileName = "journal.db"
)

// DefaultConfigDir returns the directory for config files: XDG_CONFIG_HOME
// (or ~/.config) on Linux, ~/Library/Application Support on macOS.
func DefaultConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == platformDarwin {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the directory for the token and the journal.
// macOS collapses config and data into one directory.
func DefaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == platformDarwin {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the config file used when neither
// GDRIVE_REPLICATE_CONFIG nor --config is given.
func DefaultConfigPath() string {
	return joinIfDir(DefaultConfigDir(), configFileName)
}

// DefaultTokenPath returns the token file used when none is configured.
func DefaultTokenPath() string {
	return joinIfDir(DefaultDataDir(), tokenFileName)
}

// DefaultJournalPath returns the journal database used when none is
// configured.
func DefaultJournalPath() string {
	return joinIfDir(DefaultDataDir(), journalFileName)
}

func joinIfDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// expandPath expands a leading "~". Failures leave the path unchanged and
// Validate reports it if it is still relative.
func expandPath(p string) string {
	if p == "" {
		return p
	}

	expanded, err := homedir.Expand(p)
	if err != nil {
		return p
	}

	return expanded
}
