package domain

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

// Validate is the pre-flight gate run before a create-user request is sent.
func (u NewUser) Validate() error {
	errs := ValidationErrors{}
	if !usernamePattern.MatchString(strings.TrimSpace(u.Username)) {
		errs["username"] = "must be 3-32 characters of letters, digits, dot, dash or underscore"
	}
	if addr, err := mail.ParseAddress(strings.TrimSpace(u.Email)); err != nil || addr.Address != strings.TrimSpace(u.Email) {
		errs["email"] = "must be a valid email address"
	}
	if msg := passwordProblem(u.Password); msg != "" {
		errs["password"] = msg
	}
	if u.Role != "" {
		if _, err := ParseRole(string(u.Role)); err != nil {
			errs["role"] = "must be admin, employee or customer"
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func ValidatePassword(pw string) error {
	if msg := passwordProblem(pw); msg != "" {
		return ValidationErrors{"password": msg}
	}
	return nil
}

func passwordProblem(pw string) string {
	if len(pw) < 8 {
		return "must be at least 8 characters"
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		return "must contain upper and lower case letters, a digit and a special character"
	}
	return ""
}
