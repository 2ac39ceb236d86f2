package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the ServiceConfig using struct tags and custom
// cross-field rules.
func (c *ServiceConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateJWTKeyMaterial(); err != nil {
		return err
	}

	return nil
}

// validateJWTKeyMaterial enforces spec.md §6's key-material rules that
// struct tags alone can't express: HS256 requires a secret (checked again,
// more specifically, by the Token Manager at construction); in production,
// that secret must be at least 32 bytes; RS256 key PEMs must be supplied as
// a pair, never just one side.
func (c *ServiceConfig) validateJWTKeyMaterial() error {
	switch c.JWT.Algorithm {
	case "HS256":
		if c.JWT.Secret == "" {
			return errors.New("jwt.secret is required for HS256")
		}
		if c.Environment == "production" && len(c.JWT.Secret) < 32 {
			return errors.New("jwt.secret must be at least 32 bytes in production")
		}
	case "RS256":
		hasPrivate := c.JWT.PrivateKeyPEM != ""
		hasPublic := c.JWT.PublicKeyPEM != ""
		if hasPrivate != hasPublic {
			return errors.New("jwt: private_key and public_key must both be set or both be empty")
		}
		if c.Environment == "production" && !hasPrivate {
			return errors.New("jwt: private_key and public_key are required for RS256 in production")
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
