// password.go enforces the password policy applied at registration. The
// policy is deliberately modest — length plus basic character diversity —
// because credentials are stretched with Argon2id before storage and login
// attempts are rate limited.
package validation

import (
	"fmt"
	"unicode"
)

const (
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 8
	// MaxPasswordLength bounds hashing cost for absurdly long inputs.
	MaxPasswordLength = 128
	// MaxNameLength matches the users table column width.
	MaxNameLength = 100
)

// ValidatePassword validates a candidate password against the policy.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}

	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password cannot exceed %d characters", MaxPasswordLength)
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasLetter || !hasDigit {
		return fmt.Errorf("password must contain at least one letter and one digit")
	}

	return nil
}

// ValidateDisplayName validates the human-readable name attached to a user
// account.
func ValidateDisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("name cannot exceed %d characters", MaxNameLength)
	}

	return nil
}
