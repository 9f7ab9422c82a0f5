package billing

import "strings"

const minPhoneDigits = 8

// NormalizePhone keeps only the digits of a phone number so that the number typed by
// the buyer and the one reported by the carrier compare equal.
func NormalizePhone(phone string) string {
	return digits(phone)
}

// NormalizeCard strips separators from a card number.
func NormalizeCard(card string) string {
	return digits(card)
}

// ValidPhone reports whether a normalized phone has enough digits.
func ValidPhone(phone string) bool {
	return len(phone) >= minPhoneDigits
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
