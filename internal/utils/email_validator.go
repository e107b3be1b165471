package utils

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/lindell/go-burner-email-providers/burner"
)

// EmailValidationError represents an error during email validation
type EmailValidationError struct {
	Message string
	Code    string
}

func (e EmailValidationError) Error() string {
	return e.Message
}

// ValidateEmailAddress validates an email address format and rejects
// disposable/burner domains. Used on sign-up before any account row exists.
func ValidateEmailAddress(email string) error {
	_, err := mail.ParseAddress(email)
	if err != nil {
		return &EmailValidationError{
			Message: "Invalid email format",
			Code:    "INVALID_FORMAT",
		}
	}

	domain, err := extractDomain(email)
	if err != nil {
		return &EmailValidationError{
			Message: "Could not extract domain from email",
			Code:    "DOMAIN_EXTRACTION_ERROR",
		}
	}

	if burner.IsBurnerEmail(email) {
		return &EmailValidationError{
			Message: fmt.Sprintf("Email from disposable domain '%s' is not allowed. Please use a permanent email address.", domain),
			Code:    "DISPOSABLE_EMAIL",
		}
	}

	return nil
}

// extractDomain extracts the domain part from an email address
func extractDomain(email string) (string, error) {
	email = strings.TrimSpace(email)
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid email format")
	}
	return strings.ToLower(parts[1]), nil
}
