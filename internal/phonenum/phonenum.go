// Package phonenum canonicalises telephone numbers to the digits-only form
// used as the telephony-side key (country code followed by national number).
package phonenum

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultCountryCode is prefixed to bare 10-digit national numbers.
const DefaultCountryCode = "1"

// Normalize strips every non-digit from raw and prefixes countryCode when the
// remaining digits form a 10-digit national number. An empty countryCode leaves
// national numbers untouched.
func Normalize(raw, countryCode string) string {
	digits := Digits(raw)
	if len(digits) == 10 && countryCode != "" {
		return countryCode + digits
	}
	return digits
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// IsDigits reports whether s is non-empty and made only of ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Valid reports whether s looks like a dialable number: 10 to 15 digits once
// punctuation is removed.
func Valid(s string) bool {
	d := Digits(s)
	return len(d) >= 10 && len(d) <= 15
}

// Possible reports whether the canonical number s (country code included)
// has a length the numbering plan of its country allows.
func Possible(s string) bool {
	d := Digits(s)
	if !Valid(d) {
		return false
	}
	num, err := phonenumbers.Parse("+"+d, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(num)
}
