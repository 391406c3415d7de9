package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Provider.BaseURL == "" {
		errs = append(errs, fmt.Errorf("provider.base_url is required"))
	}

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Sessions.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("sessions.type must be \"memory\" or \"postgres\", got %q", c.Sessions.Type))
	}

	if c.Sessions.Type == "postgres" {
		if c.Sessions.Postgres.DSN == "" && c.Sessions.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("sessions.postgres.dsn or sessions.postgres.dsn_file is required when sessions.type is \"postgres\""))
		}
	}

	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	switch c.Provider.Type {
	case "ollama", "":
		// valid
	default:
		errs = append(errs, fmt.Errorf("provider.type must be \"ollama\", got %q", c.Provider.Type))
	}

	if c.Tools.Files.Enabled && c.Tools.Files.Root == "" {
		errs = append(errs, fmt.Errorf("tools.files.root is required when tools.files.enabled is true"))
	}

	if c.Loop.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("loop.max_iterations must be > 0, got %d", c.Loop.MaxIterations))
	}

	return errors.Join(errs...)
}
