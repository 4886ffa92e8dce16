package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits and a leading +")

	// ErrMissingCountryCode indicates the number is not in international form
	ErrMissingCountryCode = errors.New("phone number must include a country code, e.g. +381641234567")

	// ErrInvalidLength indicates the number has too few or too many digits
	ErrInvalidLength = errors.New("phone number must have between 8 and 15 digits")
)

// digitsRegex matches digits only
var digitsRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator normalizes customer phone numbers to E.164
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate accepts "+381 64 123 4567", "00381-64-1234567" and similar forms
// and returns the E.164 rendering ("+381641234567").
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	var digits string
	switch {
	case strings.HasPrefix(sanitized, "+"):
		digits = sanitized[1:]
	case strings.HasPrefix(sanitized, "00"):
		digits = sanitized[2:]
	default:
		if !digitsRegex.MatchString(sanitized) {
			return "", ErrInvalidFormat
		}
		return "", ErrMissingCountryCode
	}

	if !digitsRegex.MatchString(digits) {
		return "", ErrInvalidFormat
	}
	if digits[0] == '0' {
		return "", ErrMissingCountryCode
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", ErrInvalidLength
	}

	return "+" + digits, nil
}

// Sanitize removes common separators from a phone number
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "", "\t", "")
	return replacer.Replace(strings.TrimSpace(phone))
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
