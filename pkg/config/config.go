// Package config holds the server runtime configuration.
package config

import (
	"errors"
	"os"
)

// Config encapsulates everything the server reads from flags and environment.
type Config struct {
	Debug bool
	Port  string

	// DatabaseURL is the Postgres DSN for the user store.
	DatabaseURL string

	// TokenSecret signs the identity tokens presented at connection time.
	TokenSecret string
}

// LoadEnv fills the environment-sourced fields. Flags are parsed in main.
func (c *Config) LoadEnv() error {
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.TokenSecret = os.Getenv("TOKEN_SECRET")

	if c.TokenSecret == "" {
		return errors.New("TOKEN_SECRET is not set")
	}

	return nil
}
