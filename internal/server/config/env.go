package config

import "github.com/kelseyhightower/envconfig"

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "VAULT"

type envConfig struct {
	Pepper      string `envconfig:"PEPPER"`
	DatabaseDSN string `envconfig:"DATABASE_DSN"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// parseEnv applies VAULT_* variables. Set variables override every other
// source; VAULT_PEPPER is the only source of the pepper.
func parseEnv(config *Config) {
	var e envConfig
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		panic(err)
	}

	config.Pepper = e.Pepper
	if e.DatabaseDSN != "" {
		config.DatabaseDSN = e.DatabaseDSN
	}
	if e.LogLevel != "" {
		config.LogLevel = e.LogLevel
	}
}
