package service

import (
	"fmt"
	"strings"
)

// FormatNaira renders an amount in kobo as a grouped naira string,
// e.g. 250000 -> "₦2,500.00".
func FormatNaira(kobo int64) string {
	naira := kobo / 100
	cents := kobo % 100
	if cents < 0 {
		cents = -cents
	}

	digits := fmt.Sprintf("%d", naira)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign = "-"
		digits = digits[1:]
	}

	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)

	return fmt.Sprintf("₦%s%s.%02d", sign, strings.Join(groups, ","), cents)
}

// CleanPhoneNumber strips non-digits and converts the +234 international
// prefix to the local leading zero.
func CleanPhoneNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if strings.HasPrefix(clean, "234") {
		clean = "0" + clean[3:]
	}
	return clean
}
