package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

var (
	uuidRegex  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
)

const (
	maxLocationLength = 64
	maxFlexDays       = 30
	maxPassengers     = 9
	maxProviderLength = 64
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateAlertConfig checks a submitted alert configuration. Omitted optional
// fields are accepted; defaults are applied by the caller.
func ValidateAlertConfig(cfg models.AlertConfig) error {
	if err := validateLocation(cfg.Origin, "origin"); err != nil {
		return err
	}

	if err := validateLocation(cfg.Destination, "destination"); err != nil {
		return err
	}

	if cfg.DateFrom != nil && cfg.DateTo != nil && cfg.DateTo.Before(cfg.DateFrom.Time) {
		return &ValidationError{
			Field:   "date_to",
			Message: "must not be before date_from",
		}
	}

	if cfg.FlexDays != nil {
		if *cfg.FlexDays < 0 {
			return &ValidationError{
				Field:   "flex_days",
				Message: "must be non-negative",
			}
		}
		if *cfg.FlexDays > maxFlexDays {
			return &ValidationError{
				Field:   "flex_days",
				Message: fmt.Sprintf("cannot exceed %d days", maxFlexDays),
			}
		}
	}

	if cfg.Passengers != nil {
		if *cfg.Passengers < 1 {
			return &ValidationError{
				Field:   "passengers",
				Message: "must be at least 1",
			}
		}
		if *cfg.Passengers > maxPassengers {
			return &ValidationError{
				Field:   "passengers",
				Message: fmt.Sprintf("cannot exceed %d", maxPassengers),
			}
		}
	}

	if cfg.CabinClass != "" && !cfg.CabinClass.Valid() {
		return &ValidationError{
			Field:   "cabin_class",
			Message: "must be one of economy, premium, business, first",
		}
	}

	if err := ValidatePhone(cfg.NotifyPhone); err != nil {
		return err
	}

	return ValidateLimits(models.LimitsUpdate{
		MaxMiles:    cfg.MaxMiles,
		MaxValueBRL: cfg.MaxValueBRL,
	})
}

// ValidateLimits checks ceiling values; nil fields are skipped.
func ValidateLimits(limits models.LimitsUpdate) error {
	if limits.MaxMiles != nil && *limits.MaxMiles < 0 {
		return &ValidationError{
			Field:   "max_miles",
			Message: "must be non-negative",
		}
	}

	if limits.MaxValueBRL != nil {
		if err := validateAmount(*limits.MaxValueBRL, "max_value_brl"); err != nil {
			return err
		}
	}

	return nil
}

// ValidateOpportunity checks a candidate submitted by a fare source.
// found_at may not be more than an hour after now.
func ValidateOpportunity(opp models.Opportunity, now time.Time) error {
	if opp.Miles < 0 {
		return &ValidationError{
			Field:   "miles",
			Message: "must be non-negative",
		}
	}

	if err := validateAmount(opp.TaxesBRL, "taxes_brl"); err != nil {
		return err
	}

	if err := validateAmount(opp.TotalBRL, "total_brl"); err != nil {
		return err
	}

	provider := SanitizeString(opp.Provider)
	if provider == "" {
		return &ValidationError{
			Field:   "provider",
			Message: "is required",
		}
	}
	if len(provider) > maxProviderLength {
		return &ValidationError{
			Field:   "provider",
			Message: fmt.Sprintf("cannot exceed %d characters", maxProviderLength),
		}
	}

	maxFutureTime := now.Add(1 * time.Hour)
	if opp.FoundAt.After(maxFutureTime) {
		return &ValidationError{
			Field:   "found_at",
			Message: "cannot be more than 1 hour in the future",
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}

// ValidatePhone accepts E.164-like numbers; an empty phone is allowed.
func ValidatePhone(phone string) error {
	if phone == "" {
		return nil
	}
	if !phoneRegex.MatchString(phone) {
		return &ValidationError{
			Field:   "notify_phone",
			Message: "must contain 10 to 15 digits",
		}
	}
	return nil
}

func validateLocation(value, field string) error {
	value = SanitizeString(value)
	if value == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	if len(value) > maxLocationLength {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("cannot exceed %d characters", maxLocationLength),
		}
	}
	return nil
}

func validateAmount(amount decimal.Decimal, field string) error {
	if amount.IsNegative() {
		return &ValidationError{
			Field:   field,
			Message: "must be non-negative",
		}
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return &ValidationError{
			Field:   field,
			Message: "cannot have more than 2 decimal places",
		}
	}
	return nil
}

func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}
