package patterns

import "strings"

// PIIPatterns returns the personally-identifiable-information catalogue used
// by the stream monitor. Every pattern carries a Label so redaction can emit
// [REDACTED-{LABEL}] placeholders.
func PIIPatterns() []*Pattern {
	return []*Pattern{
		ssnPattern(),
		creditCardPattern(),
		emailPattern(),
		phonePattern(),
		ipAddressPattern(),
		passportPattern(),
		dobPattern(),
		ibanPattern(),
		routingNumberPattern(),
		mrnPattern(),
	}
}

// US Social Security Number in dashed form.
func ssnPattern() *Pattern {
	return NewPattern("pii_ssn").
		WithRegex(`\b\d{3}-\d{2}-\d{4}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityHigh).
		WithLabel("SSN").
		WithDescription("US Social Security Number").
		WithValidator(func(match, _ string) bool { return ssnValid(match) }).
		Build()
}

// ssnValid rejects never-issued SSN shapes: area 000/666/9xx, group 00,
// serial 0000.
func ssnValid(s string) bool {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return false
	}
	area, group, serial := parts[0], parts[1], parts[2]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

// Credit card numbers with optional separators, Luhn-validated. Known test
// cards are skipped.
func creditCardPattern() *Pattern {
	return NewPattern("pii_credit_card").
		WithRegex(`\b(?:\d[ \-]*?){13,19}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityHigh).
		WithLabel("CREDIT-CARD").
		WithDescription("Payment card number").
		WithValidator(func(match, _ string) bool {
			return LuhnValid(match) && !IsTestCard(match)
		}).
		Build()
}

func emailPattern() *Pattern {
	return NewPattern("pii_email").
		WithRegex(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityMedium).
		WithLabel("EMAIL").
		WithDescription("Email address").
		Build()
}

// North American phone numbers. Separators are required so that plain
// numeric identifiers do not match.
func phonePattern() *Pattern {
	return NewPattern("pii_phone").
		WithRegex(`\b(?:\+?1[ .\-]?)?\(?[2-9]\d{2}\)?[ .\-]\d{3}[ .\-]\d{4}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityMedium).
		WithLabel("PHONE").
		WithDescription("Phone number").
		Build()
}

// IPv4 addresses, excluding the unspecified and loopback forms that appear
// constantly in benign technical output.
func ipAddressPattern() *Pattern {
	return NewPattern("pii_ip_address").
		WithRegex(`\b(?:\d{1,3}\.){3}\d{1,3}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityMedium).
		WithLabel("IP").
		WithDescription("IP address").
		WithValidator(func(match, _ string) bool { return ipValid(match) }).
		Build()
}

func ipValid(s string) bool {
	if s == "0.0.0.0" || s == "127.0.0.1" {
		return false
	}
	for _, oct := range strings.Split(s, ".") {
		if len(oct) > 1 && oct[0] == '0' {
			return false
		}
		n := 0
		for i := 0; i < len(oct); i++ {
			n = n*10 + int(oct[i]-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// Passport numbers, context-gated on the word "passport" to avoid matching
// arbitrary alphanumeric identifiers. The identifier must contain a digit so
// that prose like "passport validity" does not match.
func passportPattern() *Pattern {
	return NewPattern("pii_passport").
		WithRegex(`(?i)\bpassport\s*(?:number|no\.?|#)?\s*[:=]?\s*[A-Z0-9]{6,9}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityHigh).
		WithLabel("PASSPORT").
		WithDescription("Passport number with context").
		WithValidator(func(match, _ string) bool { return containsDigit(match) }).
		Build()
}

func containsDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// Dates of birth, context-gated.
func dobPattern() *Pattern {
	return NewPattern("pii_dob").
		WithRegex(`(?i)\b(?:dob|date\s+of\s+birth|born\s+(?:on\s+)?)\s*[:=]?\s*\d{1,4}[/.\-]\d{1,2}[/.\-]\d{1,4}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityHigh).
		WithLabel("DOB").
		WithDescription("Date of birth with context").
		Build()
}

// International Bank Account Numbers, checksum-validated (ISO 13616 mod 97).
func ibanPattern() *Pattern {
	return NewPattern("pii_iban").
		WithRegex(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityHigh).
		WithLabel("IBAN").
		WithDescription("International bank account number").
		WithValidator(func(match, _ string) bool { return ibanValid(match) }).
		Build()
}

// ibanValid checks the ISO 13616 mod-97 checksum: rotate the first four
// characters to the end, map letters to 10..35, remainder must be 1.
func ibanValid(iban string) bool {
	if len(iban) < 15 {
		return false
	}
	rotated := iban[4:] + iban[:4]
	rem := 0
	for i := 0; i < len(rotated); i++ {
		c := rotated[i]
		switch {
		case c >= '0' && c <= '9':
			rem = (rem*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			n := int(c-'A') + 10
			rem = (rem*100 + n) % 97
		default:
			return false
		}
	}
	return rem == 1
}

// US bank routing numbers, context-gated and ABA-checksum validated.
func routingNumberPattern() *Pattern {
	return NewPattern("pii_routing_number").
		WithRegex(`(?i)\b(?:routing|aba)\s*(?:number|no\.?|#)?\s*[:=]?\s*\d{9}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityHigh).
		WithLabel("ROUTING-NUMBER").
		WithDescription("Bank routing number with context").
		WithValidator(func(match, _ string) bool {
			return abaValid(NormalizeCardNumber(match))
		}).
		Build()
}

// abaValid checks the ABA checksum over exactly nine digits with weights
// 3, 7, 1.
func abaValid(digits string) bool {
	if len(digits) != 9 {
		return false
	}
	sum := 0
	weights := [3]int{3, 7, 1}
	for i := 0; i < 9; i++ {
		sum += weights[i%3] * int(digits[i]-'0')
	}
	return sum%10 == 0
}

// Medical record numbers, context-gated.
func mrnPattern() *Pattern {
	return NewPattern("pii_mrn").
		WithRegex(`(?i)\b(?:mrn|medical\s+record\s+(?:number|no\.?))\s*[:=#]?\s*[A-Z0-9]{6,10}\b`).
		WithType(TypePIIDetected).
		WithSeverity(SeverityHigh).
		WithLabel("MRN").
		WithDescription("Medical record number with context").
		WithValidator(func(match, _ string) bool { return containsDigit(match) }).
		Build()
}
