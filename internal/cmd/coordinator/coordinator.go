// Package coordinator parses coordinator command flags and starts the
// coordination runtime.
package coordinator

import (
	"context"
	"flag"

	entrypoint "github.com/openparlor/parlor/internal/platform/cmd"
)

// Config holds coordinator command configuration.
type Config struct {
	HTTPPort  int    `env:"PARLOR_HTTP_PORT" envDefault:"8080"`
	GRPCPort  int    `env:"PARLOR_GRPC_PORT" envDefault:"9090"`
	DBPath    string `env:"PARLOR_DB_PATH"`
	RulesPath string `env:"PARLOR_RULES_PATH"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "The coordinator HTTP API port")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The coordinator gRPC health port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite session store path (empty for in-memory)")
	fs.StringVar(&cfg.RulesPath, "rules", cfg.RulesPath, "YAML game rules file (empty for defaults)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the coordinator service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCoordinator, func(ctx context.Context) error {
		server, err := NewServer(cfg)
		if err != nil {
			return err
		}
		return server.Serve(ctx)
	})
}
