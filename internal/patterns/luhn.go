package patterns

import "regexp"

// nonDigit matches any non-digit character for stripping from card numbers
var nonDigit = regexp.MustCompile(`\D`)

// LuhnValid validates a candidate card number using the Luhn checksum.
// Separators (spaces, dashes) are stripped before validation. Valid card
// numbers are 13-19 digits.
func LuhnValid(number string) bool {
	digits := nonDigit.ReplaceAllString(number, "")

	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

// NormalizeCardNumber removes all non-digit characters from a card number
func NormalizeCardNumber(number string) string {
	return nonDigit.ReplaceAllString(number, "")
}

// KnownTestCards contains well-known test card numbers used in development.
// They pass Luhn but carry no cardholder data, so redacting them only adds
// noise.
var KnownTestCards = map[string]string{
	"4111111111111111": "visa_test",
	"4242424242424242": "stripe_visa_test",
	"5555555555554444": "mastercard_test",
	"378282246310005":  "amex_test",
	"6011111111111117": "discover_test",
	"3566002020360505": "jcb_test",
}

// IsTestCard checks if a card number is a known test card
func IsTestCard(number string) bool {
	_, isTest := KnownTestCards[NormalizeCardNumber(number)]
	return isTest
}
