package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "GDRIVE_REPLICATE_CONFIG"
	EnvToken  = "GDRIVE_REPLICATE_TOKEN"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath string // GDRIVE_REPLICATE_CONFIG: config file path
	TokenFile  string // GDRIVE_REPLICATE_TOKEN: token file path
}

// ReadEnvOverrides reads the override variables. It does not touch a Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		TokenFile:  os.Getenv(EnvToken),
	}
}
