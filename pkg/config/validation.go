package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittoecho/pkg/echo"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that span
// sections or depend on the selected dispatch policy.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	policy, err := echo.ParsePolicy(cfg.Dispatch.Policy)
	if err != nil {
		return fmt.Errorf("dispatch.policy: %w", err)
	}

	pool, err := DecodePoolOptions(cfg.Dispatch.Pool)
	if err != nil {
		return fmt.Errorf("dispatch.pool: %w", err)
	}

	if pool.Size < 0 {
		return fmt.Errorf("dispatch.pool.size: must be >= 0, got %d", pool.Size)
	}
	if pool.QueueDepth < 0 {
		return fmt.Errorf("dispatch.pool.queue_depth: must be >= 0, got %d", pool.QueueDepth)
	}
	if pool.MaxWorkers < 0 {
		return fmt.Errorf("dispatch.pool.max_workers: must be >= 0, got %d", pool.MaxWorkers)
	}
	for i, cpu := range pool.CPUs {
		if cpu < 0 {
			return fmt.Errorf("dispatch.pool.cpus[%d]: must be >= 0, got %d", i, cpu)
		}
	}

	// Options that only one policy understands must not be set for another
	if len(pool.CPUs) > 0 && policy != echo.PolicyPooledAffine {
		return fmt.Errorf("dispatch.pool.cpus: only valid with policy %s", echo.PolicyPooledAffine)
	}
	if pool.MaxWorkers > 0 && policy != echo.PolicyPerConnection {
		return fmt.Errorf("dispatch.pool.max_workers: only valid with policy %s", echo.PolicyPerConnection)
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Listener.Port {
		return fmt.Errorf("server.metrics.port: %d conflicts with listener.port", cfg.Server.Metrics.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
