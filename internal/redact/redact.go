// Package redact masks secrets and personal data before they reach logs.
package redact

import "regexp"

var (
	// api_key=user:pass on the ARI events URL, plus common token params.
	credentialPattern = regexp.MustCompile(`(?i)\b(api_key|password|access_token|client_secret)=([^&\s"']+)`)
	userinfoPattern   = regexp.MustCompile(`(://[^/:@\s]+):[^@/\s]+@`)

	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// Credentials masks credential query parameters and URL passwords.
func Credentials(input string) string {
	out := credentialPattern.ReplaceAllString(input, "$1=[REDACTED]")
	return userinfoPattern.ReplaceAllString(out, "$1:[REDACTED]@")
}

// Error is Credentials applied to err's message; nil yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Credentials(err.Error())
}

// PII masks common high-risk PII patterns in caller-provided text.
func PII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards before phones, or long card numbers match as phones.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Text is PII without the changed flag, for log fields.
func Text(input string) string {
	out, _ := PII(input)
	return out
}
