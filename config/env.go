package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvConfigPath = "FLASHSIM_CONFIG"
	EnvDebug      = "FLASHSIM_DEBUG"
)

// DefaultWorldPath is used when neither --config nor FLASHSIM_CONFIG is set.
const DefaultWorldPath = "config/world.yaml"

// LoadEnv loads environment variables from .env file. A missing file is not
// an error.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvBool reads a boolean variable, falling back to defaultValue when it
// is unset or unparsable.
func GetEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
