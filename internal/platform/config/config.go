// Package config loads service configuration from the process environment.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target's env-tagged fields from environment variables,
// falling back to each field's envDefault.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Exitf reports an unrecoverable startup failure on stderr and terminates
// the process. Meant for main functions before logging is configured.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
