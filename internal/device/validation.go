package device

import (
	"fmt"
	"math"
	"regexp"
)

// Validation constants.
const (
	maxIDLength = 64

	// IDs end up in MQTT topic levels, so separators and wildcards are excluded.
	idPattern = `^[A-Za-z0-9][A-Za-z0-9._-]*$`
)

var idRegex = regexp.MustCompile(idPattern)

// ValidateGroupID checks a group identifier.
//
// Parameters:
//   - id: Group identifier from an API path, MQTT topic or catalogue row
//
// Returns:
//   - error: ErrInvalidGroupID wrapped with the reason, or nil
func ValidateGroupID(id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidGroupID, err)
	}
	return nil
}

// ValidateDeviceID checks a device identifier.
//
// Parameters:
//   - id: Device identifier, unique within its group
//
// Returns:
//   - error: ErrInvalidDeviceID wrapped with the reason, or nil
func ValidateDeviceID(id string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDeviceID, err)
	}
	return nil
}

// ValidateTemperature rejects values that cannot be stored or encoded as JSON.
func ValidateTemperature(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	return nil
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("must not be empty")
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("exceeds %d characters", maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%q must match %s", id, idPattern)
	}
	return nil
}
