package connector

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimiterRegistrar installs request budgets; implemented by
// ratelimit.Registry.
type RateLimiterRegistrar interface {
	Register(name string, requestCount int, interval time.Duration) error
}

// LoadOptions overrides a connector's defaults at bootstrap.
type LoadOptions struct {
	// Enabled gates the connector. Disabled connectors are skipped
	// entirely: no rate limiter, no event subscription.
	Enabled bool

	// RateLimit overrides the definition's default budget when both
	// fields are set.
	RateLimit RateLimit
}

// LoadConnectors registers a rate-limiter budget for every enabled
// connector in the catalog. A connector whose configuration is invalid
// is logged and skipped; one misconfigured connector never blocks the
// rest of startup.
//
// Returns the names that loaded successfully.
func LoadConnectors(catalog *Catalog, registrar RateLimiterRegistrar, opts map[Name]LoadOptions, logger *zap.Logger) []Name {
	if logger == nil {
		logger = zap.NewNop()
	}

	var loaded []Name
	for _, def := range catalog.Definitions() {
		o, configured := opts[def.Name]
		if configured && !o.Enabled {
			logger.Info("connector disabled", zap.String("connector", def.Name.String()))
			continue
		}

		if err := loadOne(def, registrar, o); err != nil {
			logger.Error("connector failed to load",
				zap.String("connector", def.Name.String()),
				zap.Error(err),
			)
			continue
		}

		loaded = append(loaded, def.Name)
	}
	return loaded
}

func loadOne(def Definition, registrar RateLimiterRegistrar, o LoadOptions) error {
	budget := def.DefaultRateLimit
	if o.RateLimit.Requests != 0 || o.RateLimit.Interval != 0 {
		budget = o.RateLimit
	}
	if budget.Requests <= 0 || budget.Interval <= 0 {
		return fmt.Errorf("no usable rate limit budget for %s: requests=%d interval=%s",
			def.Name, budget.Requests, budget.Interval)
	}

	if err := registrar.Register(def.Name.String(), budget.Requests, budget.Interval); err != nil {
		return fmt.Errorf("registering rate limiter for %s: %w", def.Name, err)
	}
	return nil
}
