package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/vaultcore/internal/flagx"
	"github.com/dmitrijs2005/vaultcore/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Keys that are absent
// keep their current values. There is deliberately no pepper key.
type JsonConfig struct {
	EndpointAddrGRPC     string         `json:"endpoint_addr_grpc"`
	DatabaseDSN          string         `json:"database_dsn"`
	HashingPermits       int            `json:"hashing_permits"`
	ShutdownTimeout      timex.Duration `json:"shutdown_timeout"`
	MigrateLegacyOnStart bool           `json:"migrate_legacy_on_start"`
	LogLevel             string         `json:"log_level"`
}

// parseJson overlays the file named by -c / -config onto config. Without
// either flag nothing is loaded. An unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{
		EndpointAddrGRPC:     config.EndpointAddrGRPC,
		DatabaseDSN:          config.DatabaseDSN,
		HashingPermits:       config.HashingPermits,
		ShutdownTimeout:      timex.Duration{Duration: config.ShutdownTimeout},
		MigrateLegacyOnStart: config.MigrateLegacyOnStart,
		LogLevel:             config.LogLevel,
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrGRPC = c.EndpointAddrGRPC
	config.DatabaseDSN = c.DatabaseDSN
	config.HashingPermits = c.HashingPermits
	config.ShutdownTimeout = c.ShutdownTimeout.Duration
	config.MigrateLegacyOnStart = c.MigrateLegacyOnStart
	config.LogLevel = c.LogLevel
}
