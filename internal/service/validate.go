package service

import (
	"fmt"
	"strings"
	"unicode"
)

// Field-length limits, matching the relational schema's column widths.
const (
	maxUsernameLen    = 50
	maxNameLen        = 50
	maxProductNameLen = 255
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// cleanString rejects control characters outright rather than stripping
// quote characters the way a sanitizer would; every statement downstream
// is parameterized, so quoting is not the concern here, garbage is.
func cleanString(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	for _, r := range value {
		if unicode.IsControl(r) {
			return "", validationError("%s contains control characters", field)
		}
	}
	return value, nil
}

func validateUsername(username string) (string, error) {
	username, err := cleanString("username", username)
	if err != nil {
		return "", err
	}
	if username == "" {
		return "", validationError("username is required")
	}
	if len(username) > maxUsernameLen {
		return "", validationError("username exceeds %d characters", maxUsernameLen)
	}
	return username, nil
}

func validatePersonName(field, name string) (string, error) {
	name, err := cleanString(field, name)
	if err != nil {
		return "", err
	}
	if len(name) > maxNameLen {
		return "", validationError("%s exceeds %d characters", field, maxNameLen)
	}
	return name, nil
}

func validateProductName(name string) (string, error) {
	name, err := cleanString("name", name)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", validationError("product name is required")
	}
	if len(name) > maxProductNameLen {
		return "", validationError("product name exceeds %d characters", maxProductNameLen)
	}
	return name, nil
}

func validatePrice(price float64) error {
	if price < 0 {
		return validationError("price must not be negative")
	}
	return nil
}

func validateRating(rating float64) error {
	if rating < 0 || rating > 5 {
		return validationError("rating must be between 0 and 5")
	}
	return nil
}
