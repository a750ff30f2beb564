// Package config implements TOML configuration loading, validation, and
// path resolution for gdrive-replicate. Values are layered
// defaults -> config file -> environment -> CLI flags.
package config

import (
	"time"

	"github.com/tonimelisma/gdrive-replicate/internal/retry"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Retry    RetryConfig    `toml:"retry"`
	Transfer TransferConfig `toml:"transfer"`
	Filter   FilterConfig   `toml:"filter"`
	Auth     AuthConfig     `toml:"auth"`
	State    StateConfig    `toml:"state"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// RetryConfig controls the backoff applied to every remote call.
type RetryConfig struct {
	MaxRetries     int     `toml:"max_retries"`
	InitialDelay   string  `toml:"initial_delay"`
	Factor         float64 `toml:"factor"`
	MaxDelay       string  `toml:"max_delay"`
	Jitter         float64 `toml:"jitter"`
	OperationDelay string  `toml:"operation_delay"`
}

// TransferConfig controls concurrency, stream-copy chunking, and run limits.
// chunk_size must be a multiple of 256 KiB, the Drive upload granularity.
type TransferConfig struct {
	Workers        int    `toml:"workers"`
	ChunkSize      string `toml:"chunk_size"`
	BandwidthLimit string `toml:"bandwidth_limit"`
	MaxItems       int    `toml:"max_items"`
	CreateRoot     bool   `toml:"create_root"`
}

// FilterConfig holds name patterns (doublestar globs). Exclude patterns skip
// items; special patterns mark OS artifact files that are copied but
// reported separately.
type FilterConfig struct {
	Exclude         []string `toml:"exclude"`
	SpecialPatterns []string `toml:"special_patterns"`
}

// AuthConfig locates the OAuth2 token file. client_id/client_secret override
// the client stored in the token file.
type AuthConfig struct {
	TokenFile    string `toml:"token_file"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// StateConfig locates the run journal. Disabled turns off persistence and
// with it --resume.
type StateConfig struct {
	Journal  string `toml:"journal"`
	Disabled bool   `toml:"disabled"`
}

// LoggingConfig controls log level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// NetworkConfig controls the HTTP client.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish "not
// specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string
	TokenFile  *string
	Workers    *int
	MaxItems   *int
	CreateRoot *bool
	ChunkSize  *string
}

// Policy returns the validated retry settings as a retry.Policy.
func (r *RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:     r.MaxRetries,
		InitialDelay:   durationOrZero(r.InitialDelay),
		Factor:         r.Factor,
		MaxDelay:       durationOrZero(r.MaxDelay),
		Jitter:         r.Jitter,
		OperationDelay: durationOrZero(r.OperationDelay),
	}
}

// ChunkBytes returns chunk_size in bytes.
func (t *TransferConfig) ChunkBytes() int64 {
	n, _ := ParseSize(t.ChunkSize)
	return n
}

// BandwidthBytes returns bandwidth_limit in bytes per second; 0 = unlimited.
func (t *TransferConfig) BandwidthBytes() int64 {
	n, _ := ParseSize(t.BandwidthLimit)
	return n
}

// ConnectTimeoutDuration returns connect_timeout.
func (n *NetworkConfig) ConnectTimeoutDuration() time.Duration {
	return durationOrZero(n.ConnectTimeout)
}

// RequestTimeoutDuration returns request_timeout; 0 = none.
func (n *NetworkConfig) RequestTimeoutDuration() time.Duration {
	return durationOrZero(n.RequestTimeout)
}

// durationOrZero parses a duration already checked by Validate.
func durationOrZero(s string) time.Duration {
	if s == "" {
		return 0
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
