package secretstore

import (
	"fmt"
	"regexp"
)

// PasswordStrength represents the strength level of a password
type PasswordStrength int

const (
	PasswordWeak PasswordStrength = iota
	PasswordFair
	PasswordGood
	PasswordStrong
)

// String returns a human-readable representation of password strength
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "weak"
	case PasswordFair:
		return "fair"
	case PasswordGood:
		return "good"
	case PasswordStrong:
		return "strong"
	default:
		return "unknown"
	}
}

// MaxPasswordLength bounds what an operator may provision.
const MaxPasswordLength = 128

var (
	upperRe   = regexp.MustCompile(`[A-Z]`)
	lowerRe   = regexp.MustCompile(`[a-z]`)
	digitRe   = regexp.MustCompile(`\d`)
	specialRe = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>\-_=+\[\]\;'~/\x60]`)
)

// PasswordValidationResult contains the result of password validation
type PasswordValidationResult struct {
	Valid    bool             // Whether password can be provisioned at all
	Strength PasswordStrength // Estimated strength
	Warnings []string         // Suggestions for improvement (not errors)
}

// ValidatePassword rates a password an operator wants to provision.
// Only emptiness and MaxPasswordLength are hard errors; the built-in
// default is short on purpose, so everything else is a warning.
func ValidatePassword(password string) *PasswordValidationResult {
	result := &PasswordValidationResult{
		Valid:    true,
		Strength: PasswordFair,
	}

	if password == "" {
		result.Valid = false
		result.Strength = PasswordWeak
		result.Warnings = append(result.Warnings, "Password must not be empty")
		return result
	}
	if len(password) > MaxPasswordLength {
		result.Valid = false
		result.Strength = PasswordWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength))
		return result
	}

	complexity := 0
	for _, re := range []*regexp.Regexp{upperRe, lowerRe, digitRe, specialRe} {
		if re.MatchString(password) {
			complexity++
		}
	}

	if password == DefaultPassword {
		result.Warnings = append(result.Warnings,
			"This is the built-in default password; anyone who has read the docs knows it")
	}
	if complexity < 2 {
		result.Warnings = append(result.Warnings,
			"Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if len(password) < 12 {
		result.Warnings = append(result.Warnings,
			"Longer passwords (12+ characters) are more secure")
	}

	switch {
	case complexity >= 3 && len(password) >= 16:
		result.Strength = PasswordStrong
	case complexity >= 2 && len(password) >= 12:
		result.Strength = PasswordGood
	case complexity >= 2 || len(password) >= 12:
		result.Strength = PasswordFair
	default:
		result.Strength = PasswordWeak
	}

	return result
}
