// Package logging provides helpers for keeping secrets out of log and
// operator-channel output.
package logging

import "regexp"

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// OpenAI-style API keys (sk-..., sk-proj-...).
	apiKeyPattern = regexp.MustCompile(`sk-[A-Za-z0-9-_]{10,}`)

	// Bearer tokens (three base64url segments or opaque tokens).
	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9-_.]+`)

	// Discord bot tokens passed in error text.
	botTokenPattern = regexp.MustCompile(`(?i)(token)=[^;&\s]+`)

	// Connection string credentials (user:pass@host format).
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeError strips credentials from error text before it is logged or
// forwarded to the staff channel.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return Sanitize(err.Error())
}

// Sanitize strips credentials from arbitrary text.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	s = apiKeyPattern.ReplaceAllString(s, RedactedText)
	s = bearerPattern.ReplaceAllString(s, "Bearer "+RedactedText)
	s = botTokenPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
	return s
}
