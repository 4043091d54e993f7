// Package cmd carries the startup scaffolding shared by service binaries:
// environment and flag parsing plus the telemetry lifecycle around a run loop.
package cmd

import (
	"context"
	"errors"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/openparlor/parlor/internal/platform/config"
	"github.com/openparlor/parlor/internal/platform/otel"
)

const otelShutdownTimeout = 5 * time.Second

// ServiceCoordinator names the coordination service in telemetry.
const ServiceCoordinator = "coordinator"

// ParseConfig loads environment defaults into cfg. Commands register flags on
// top of the loaded values so flags win over the environment.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	return fs.Parse(args)
}

// RunWithTelemetry sets up tracing for the named service, invokes run, and
// flushes pending spans on the way out.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Printf("%s: otel shutdown: %v", service, err)
		}
	}()

	return run(ctx)
}
