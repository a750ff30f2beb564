package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
)

// Validation bounds.
const (
	minWorkers      = 1
	maxWorkers      = 64
	maxRetriesLimit = 20
	maxChunkBytes   = 1 << 30
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

// Validate checks every value and returns all problems joined, so a user
// can fix them in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateTransfer(&cfg.Transfer)...)
	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only hold after overrides and
// path expansion.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.Auth.TokenFile != "" && !filepath.IsAbs(cfg.Auth.TokenFile) {
		errs = append(errs, fmt.Errorf("auth.token_file: must be absolute after expansion, got %q", cfg.Auth.TokenFile))
	}

	if !cfg.State.Disabled && cfg.State.Journal != "" && !filepath.IsAbs(cfg.State.Journal) {
		errs = append(errs, fmt.Errorf("state.journal: must be absolute after expansion, got %q", cfg.State.Journal))
	}

	if (cfg.Auth.ClientID == "") != (cfg.Auth.ClientSecret == "") {
		errs = append(errs, errors.New("auth: client_id and client_secret must be set together"))
	}

	return errors.Join(errs...)
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxRetries < 0 || r.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("retry.max_retries: must be between 0 and %d, got %d",
			maxRetriesLimit, r.MaxRetries))
	}

	initial, err := parseDuration("retry.initial_delay", r.InitialDelay)
	if err != nil {
		errs = append(errs, err)
	} else if initial <= 0 {
		errs = append(errs, fmt.Errorf("retry.initial_delay: must be positive, got %s", r.InitialDelay))
	}

	if r.Factor < 1 {
		errs = append(errs, fmt.Errorf("retry.factor: must be >= 1, got %g", r.Factor))
	}

	if r.Jitter < 0 || r.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("retry.jitter: must be in [0, 1), got %g", r.Jitter))
	}

	if r.MaxDelay != "" {
		maxDelay, err := parseDuration("retry.max_delay", r.MaxDelay)
		if err != nil {
			errs = append(errs, err)
		} else if maxDelay != 0 && maxDelay < initial {
			errs = append(errs, fmt.Errorf("retry.max_delay: %s is below initial_delay %s", r.MaxDelay, r.InitialDelay))
		}
	}

	if r.OperationDelay != "" {
		if _, err := parseDuration("retry.operation_delay", r.OperationDelay); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

func validateTransfer(t *TransferConfig) []error {
	var errs []error

	if t.Workers < minWorkers || t.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("transfer.workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, t.Workers))
	}

	if t.MaxItems < 0 {
		errs = append(errs, fmt.Errorf("transfer.max_items: must be >= 0, got %d", t.MaxItems))
	}

	errs = append(errs, validateChunkSize(t.ChunkSize)...)

	if _, err := ParseSize(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfer.bandwidth_limit: %w", err))
	}

	return errs
}

func validateChunkSize(s string) []error {
	n, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("transfer.chunk_size: %w", err)}
	}

	if n < gdrive.ChunkAlignment || n > maxChunkBytes {
		return []error{fmt.Errorf("transfer.chunk_size: must be between 256KiB and 1GiB, got %s", s)}
	}

	if n%gdrive.ChunkAlignment != 0 {
		return []error{fmt.Errorf("transfer.chunk_size: must be a multiple of 256 KiB (%d bytes), got %s (%d bytes)",
			gdrive.ChunkAlignment, s, n)}
	}

	return nil
}

func validateFilter(f *FilterConfig) []error {
	var errs []error

	for _, p := range f.Exclude {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("filter.exclude: invalid pattern %q", p))
		}
	}

	for _, p := range f.SpecialPatterns {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("filter.special_patterns: invalid pattern %q", p))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("logging.level: must be one of debug, info, warn, error; got %q", l.Level))
	}

	if !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("logging.format: must be one of auto, text, json; got %q", l.Format))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	for _, f := range []struct{ name, value string }{
		{"network.connect_timeout", n.ConnectTimeout},
		{"network.request_timeout", n.RequestTimeout},
	} {
		if f.value == "" {
			continue
		}

		if _, err := parseDuration(f.name, f.value); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

// parseDuration parses a non-negative Go duration string.
func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %s", field, s)
	}

	return d, nil
}
