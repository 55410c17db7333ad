package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/vaultcore/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-d string     PostgreSQL DSN
//	-h int        concurrent argon2 computations
//	-t duration   shutdown timeout (e.g., "10s")
//	-m            encrypt legacy plaintext secrets at startup
//	-l string     log level
//
// os.Args is filtered to these flags first so that -c and flags owned by
// other components do not make parsing fail.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-h", "-t", "-m", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.IntVar(&config.HashingPermits, "h", config.HashingPermits, "concurrent password hashing / key derivation permits")
	fs.DurationVar(&config.ShutdownTimeout, "t", config.ShutdownTimeout, "graceful shutdown timeout")
	fs.BoolVar(&config.MigrateLegacyOnStart, "m", config.MigrateLegacyOnStart, "migrate legacy plaintext secrets on start")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
