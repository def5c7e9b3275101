// email.go validates and normalizes email addresses supplied during
// registration and admin user management. Addresses are stored lowercased so
// uniqueness checks and login lookups are case-insensitive.
package validation

import (
	"fmt"
	"net/mail"
	"strings"
)

// MaxEmailLength is the longest address accepted, matching the users table
// column width.
const MaxEmailLength = 255

// ValidateEmail validates that the given string is a plausible email address.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}

	if len(email) > MaxEmailLength {
		return fmt.Errorf("email cannot exceed %d characters", MaxEmailLength)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email address")
	}

	// Reject addresses with a display name ("Bob <bob@example.com>") — only
	// the bare addr-spec form is accepted.
	if addr.Address != email {
		return fmt.Errorf("invalid email address")
	}

	// mail.ParseAddress accepts local-only addresses; require a dot in the
	// domain so "user@localhost" style values are rejected.
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("invalid email address")
	}

	return nil
}

// NormalizeEmail returns the canonical stored form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
