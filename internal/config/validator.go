package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sentinel-Gate/cardrelay/internal/domain/auth"
	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers cardrelay-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"audit_output": validateAuditOutput,
		"duration":     validateDuration,
		"key_hash":     validateKeyHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput accepts "stdout", "none" or "file://<absolute-path>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	if output == "stdout" || output == "none" {
		return true
	}

	if path, ok := strings.CutPrefix(output, "file://"); ok {
		return path != "" && filepath.IsAbs(path)
	}

	return false
}

// validateDuration accepts any non-negative Go duration string.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashUnknown
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	return c.validateDeviceKey()
}

// validateDeviceKey rejects ambiguous device auth. A key that is present but
// empty must fail loudly rather than leave the scan endpoint open.
func (c *Config) validateDeviceKey() error {
	hasKey := c.Device.Key != ""
	hasHash := c.Device.KeyHash != ""

	if hasKey && hasHash {
		return errors.New("device: specify key OR key_hash, not both")
	}
	if c.Device.keySet && strings.TrimSpace(c.Device.Key) == "" && !hasHash {
		return errors.New("device.key is set but empty; remove it to accept scans without a key")
	}
	if hasKey && strings.TrimSpace(c.Device.Key) != c.Device.Key {
		return errors.New("device.key must not have leading or trailing whitespace")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to one readable message.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'none' or 'file://<absolute-path>'", field)
	case "duration":
		return fmt.Sprintf("%s must be a non-negative duration like \"30s\" or \"5m\"", field)
	case "key_hash":
		return fmt.Sprintf("%s must be an argon2id hash (see 'cardrelay hash-key') or sha256:<hex>", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
