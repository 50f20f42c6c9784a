package validation

import "unicode"

// Strength labels, weakest first.
const (
	StrengthWeak   = "Weak"
	StrengthFair   = "Fair"
	StrengthGood   = "Good"
	StrengthStrong = "Strong"
)

// MaxStrengthScore is the highest score PasswordStrength can return.
const MaxStrengthScore = 6

// Strength describes how strong a password looks to the form.
type Strength struct {
	Score int    `json:"score"`
	Label string `json:"label"`
	Hint  string `json:"hint,omitempty"`
}

// PasswordStrength scores a password one point each for length >= 6, length >= 8,
// an upper-case letter, a lower-case letter, a digit and any other character.
func PasswordStrength(password string) Strength {
	var upper, lower, digit, other bool
	n := 0
	for _, c := range password {
		n++
		switch {
		case c <= unicode.MaxASCII && unicode.IsUpper(c):
			upper = true
		case c <= unicode.MaxASCII && unicode.IsLower(c):
			lower = true
		case c >= '0' && c <= '9':
			digit = true
		default:
			other = true
		}
	}

	score := 0
	for _, ok := range []bool{n >= 6, n >= 8, upper, lower, digit, other} {
		if ok {
			score++
		}
	}

	s := Strength{Score: score}
	switch {
	case score <= 2:
		s.Label = StrengthWeak
	case score <= 4:
		s.Label = StrengthFair
	case score == 5:
		s.Label = StrengthGood
	default:
		s.Label = StrengthStrong
	}

	switch {
	case n < 6:
		s.Hint = "At least 6 characters required"
	case score >= 5:
		s.Hint = "Excellent password strength!"
	case score < 4:
		s.Hint = "Try adding uppercase, numbers, or symbols"
	}
	return s
}
