package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/monitorhub/monitorhub/internal/models"
)

var (
	// Validate is a shared validator instance
	Validate *validator.Validate
)

func init() {
	Validate = validator.New()

	// Register custom validators for enums
	// These should never fail in normal operation, but log if they do
	if err := Validate.RegisterValidation("condition_kind", validateConditionKind); err != nil {
		panic(fmt.Sprintf("failed to register condition_kind validator: %v", err))
	}
	if err := Validate.RegisterValidation("trigger_kind", validateTriggerKind); err != nil {
		panic(fmt.Sprintf("failed to register trigger_kind validator: %v", err))
	}
}

// validateConditionKind validates that a string is a valid ConditionKind enum value
func validateConditionKind(fl validator.FieldLevel) bool {
	switch models.ConditionKind(fl.Field().String()) {
	case models.ConditionKindState, models.ConditionKindChange:
		return true
	default:
		return false
	}
}

// validateTriggerKind validates that a string is a valid TriggerKind enum value
func validateTriggerKind(fl validator.FieldLevel) bool {
	switch models.TriggerKind(fl.Field().String()) {
	case models.TriggerKindScheduled, models.TriggerKindManual:
		return true
	default:
		return false
	}
}

// SanitizeText sanitizes text input by trimming whitespace and removing control characters
func SanitizeText(text string) string {
	// Trim whitespace
	text = strings.TrimSpace(text)

	// Remove control characters except newline and tab
	var sanitized strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		sanitized.WriteRune(r)
	}

	return sanitized.String()
}

// ValidateConditionKind validates a ConditionKind string value
func ValidateConditionKind(value string) error {
	switch models.ConditionKind(value) {
	case models.ConditionKindState, models.ConditionKindChange:
		return nil
	default:
		return fmt.Errorf("invalid condition_kind: %s (must be 'state' or 'change')", value)
	}
}

// ValidateTriggerKind validates a TriggerKind string value
func ValidateTriggerKind(value string) error {
	switch models.TriggerKind(value) {
	case models.TriggerKindScheduled, models.TriggerKindManual:
		return nil
	default:
		return fmt.Errorf("invalid trigger kind: %s (must be 'scheduled' or 'manual')", value)
	}
}
