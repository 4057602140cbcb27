package contextutils

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// MinPasswordLength is the shortest password accepted at registration
const MinPasswordLength = 8

// IsValidEmail checks if an email address is valid using go-playground/validator
func IsValidEmail(email string) bool {
	return validate.Var(email, "email") == nil
}

// IsValidUsername reports whether a username is 3-32 characters of letters, digits, '_', '.', '-'
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// ValidatePassword returns ErrInvalidInput when a password is too short
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return WrapErrorf(ErrInvalidInput, "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}
