package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Tobbiloba/actiongate/internal/auth"
)

// Validate validates Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStorageBackend(); err != nil {
		return err
	}
	if err := c.validateAdminTokenHashes(); err != nil {
		return err
	}
	return nil
}

// validateStorageBackend ensures sqlite_path is present when a sqlite
// backend is selected.
func (c *Config) validateStorageBackend() error {
	if c.Pipeline.CounterBackend == "sqlite" && c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required when pipeline.counter_backend is \"sqlite\"")
	}
	return nil
}

// validateAdminTokenHashes rejects a config carrying an admin token hash
// in a format Verify can never recognize, since such an entry would be
// permanently unusable rather than merely misconfigured.
func (c *Config) validateAdminTokenHashes() error {
	for i, tok := range c.Admin.Tokens {
		if auth.DetectHashType(tok.Hash) == "unknown" {
			return fmt.Errorf("admin.tokens[%d] (%q): hash is not a recognized argon2id or sha256 format", i, tok.Name)
		}
	}
	return nil
}

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
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
