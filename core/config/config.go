package config

import (
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var loadDotEnvOnce sync.Once

// Load populates cfg from environment variables using its env struct tags.
// A .env file in the working directory is loaded once per process before
// the first parse; a missing file is not an error.
func Load(cfg any) error {
	loadDotEnvOnce.Do(func() {
		_ = godotenv.Load()
	})

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// MustLoad is Load panicking on failure, for use during startup wiring.
func MustLoad(cfg any) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
