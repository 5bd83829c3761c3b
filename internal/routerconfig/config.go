// Package routerconfig loads environment-based configuration for the
// example wsrouterd binary, adapted from the teacher library's pkg/config.
// The router library itself never depends on this package — it takes an
// explicit Options struct — this is wiring for cmd/wsrouterd only.
package routerconfig

import (
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
)

// Load reads configuration from a .env file (if present) or the process
// environment into cfg, then validates it with struct tags.
func Load[T any](cfg *T) error {
	if err := cleanenv.ReadConfig(".env", cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return wserr.New(wserr.InvalidArgument, "failed to read configuration", err)
		}
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return wserr.New(wserr.InvalidArgument, "configuration validation failed", err)
	}
	return nil
}
