package config

import "github.com/tonimelisma/gdrive-replicate/internal/retry"

// Layer 0 of the override chain.
const (
	defaultMaxRetries     = retry.DefaultMaxRetries
	defaultInitialDelay   = "10s"
	defaultFactor         = retry.DefaultFactor
	defaultJitter         = retry.DefaultJitter
	defaultOperationDelay = "0s"
	defaultWorkers        = 1
	defaultChunkSize      = "8MiB"
	defaultBandwidthLimit = "0"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultConnectTimeout = "10s"
	defaultRequestTimeout = "5m"
)

// DefaultSpecialPatterns are the OS metadata files copied but flagged.
// "Icon\r" is the macOS custom folder icon file.
var DefaultSpecialPatterns = []string{"._*", ".DS_Store", "Thumbs.db", "desktop.ini", "Icon\r"}

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Retry: RetryConfig{
			MaxRetries:     defaultMaxRetries,
			InitialDelay:   defaultInitialDelay,
			Factor:         defaultFactor,
			Jitter:         defaultJitter,
			OperationDelay: defaultOperationDelay,
		},
		Transfer: TransferConfig{
			Workers:        defaultWorkers,
			ChunkSize:      defaultChunkSize,
			BandwidthLimit: defaultBandwidthLimit,
		},
		Filter: FilterConfig{
			SpecialPatterns: append([]string(nil), DefaultSpecialPatterns...),
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
		},
	}
}
