package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and validates it. Unknown keys
// are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path if it exists and returns defaults otherwise, so
// the tool runs without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve applies the override chain defaults -> config file -> environment
// -> CLI flags and returns the validated result with paths expanded.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.TokenFile != "" {
		cfg.Auth.TokenFile = env.TokenFile
	}

	applyCLI(cfg, cli)

	if cfg.Auth.TokenFile == "" {
		cfg.Auth.TokenFile = DefaultTokenPath()
	}

	if cfg.State.Journal == "" {
		cfg.State.Journal = DefaultJournalPath()
	}

	cfg.Auth.TokenFile = expandPath(cfg.Auth.TokenFile)
	cfg.State.Journal = expandPath(cfg.State.Journal)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.TokenFile != nil {
		cfg.Auth.TokenFile = *cli.TokenFile
	}

	if cli.Workers != nil {
		cfg.Transfer.Workers = *cli.Workers
	}

	if cli.MaxItems != nil {
		cfg.Transfer.MaxItems = *cli.MaxItems
	}

	if cli.CreateRoot != nil {
		cfg.Transfer.CreateRoot = *cli.CreateRoot
	}

	if cli.ChunkSize != nil {
		cfg.Transfer.ChunkSize = *cli.ChunkSize
	}
}
