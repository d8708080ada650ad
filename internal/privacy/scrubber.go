// Package privacy redacts personal and secret material from document
// text before it is embedded or surfaced in cluster profiles.
package privacy

import (
	"regexp"
	"strings"
)

var (
	// emailRegex matches email addresses.
	emailRegex = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// cardRegex matches 13-19 digit runs, optionally separated by
	// spaces or dashes (card and account numbers).
	cardRegex = regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`)

	// tokenRegex matches bearer tokens and api-key style assignments.
	tokenRegex = regexp.MustCompile(`(?i)\b(?:bearer\s+|(?:api[_\-]?key|token|secret|password)\s*[:=]\s*)\S+`)

	// redactedTagRegex matches <redacted>...</redacted> tags placed by
	// upstream tooling; the tag and its content are both dropped.
	redactedTagRegex = regexp.MustCompile(`(?s)<redacted>.*?</redacted>`)
)

// Redaction placeholders. Stable tokens so identical secrets redact to
// identical text and do not perturb clustering.
const (
	EmailPlaceholder  = "[email]"
	NumberPlaceholder = "[number]"
	SecretPlaceholder = "[secret]"
)

// RedactEmails replaces email addresses with EmailPlaceholder.
func RedactEmails(text string) string {
	return emailRegex.ReplaceAllString(text, EmailPlaceholder)
}

// RedactNumbers replaces long digit runs with NumberPlaceholder.
func RedactNumbers(text string) string {
	return cardRegex.ReplaceAllString(text, NumberPlaceholder)
}

// RedactSecrets replaces credential-looking assignments with SecretPlaceholder.
func RedactSecrets(text string) string {
	return tokenRegex.ReplaceAllString(text, SecretPlaceholder)
}

// StripRedactedTags removes all <redacted>...</redacted> content.
func StripRedactedTags(text string) string {
	return redactedTagRegex.ReplaceAllString(text, "")
}

// IsEntirelyRedacted checks if the text is entirely within <redacted> tags.
func IsEntirelyRedacted(text string) bool {
	return strings.TrimSpace(StripRedactedTags(text)) == ""
}

// Clean performs full redaction on text. This is the main function to
// use before storing any customer content.
func Clean(text string) string {
	text = StripRedactedTags(text)
	text = RedactSecrets(text)
	text = RedactEmails(text)
	text = RedactNumbers(text)
	return strings.TrimSpace(text)
}
