package accounts

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var emailValidator = validator.New()

// NormalizeEmail trims the address and checks its syntax. op names the
// operation in returned errors.
func NormalizeEmail(op, email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", Errorf(InvalidInput, op, "email is required")
	}
	if err := emailValidator.Var(trimmed, "required,email"); err != nil {
		return "", Errorf(InvalidInput, op, "malformed email %q", trimmed)
	}
	return trimmed, nil
}
