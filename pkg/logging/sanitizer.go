// Package logging keeps target-database credentials out of log output.
// Anything derived from a connection string or a driver error goes
// through a sanitizer before it is logged or persisted.
package logging

import "regexp"

const (
	// MaxQueryLogLength caps how much of a sampling query is logged.
	MaxQueryLogLength = 100
	// RedactedText replaces anything that looks like a secret.
	RedactedText = "[REDACTED]"
)

var (
	// password=..., pwd=..., pass=... up to the next delimiter.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// API-key style parameters. The length floor avoids redacting short
	// non-secret values like key=id.
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// user:password@host segments in connection URLs.
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

func redactSecrets(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeConnectionString redacts credentials from a connection
// string, in both key-value and URL formats.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return redactSecrets(connStr)
}

// SanitizeError redacts credentials from an error message. Driver
// errors routinely echo the full connection string back, so every
// error from a target-database operation passes through here.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redactSecrets(err.Error())
}

// SanitizeQuery truncates and redacts a SQL query for logging.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return redactSecrets(TruncateString(query, MaxQueryLogLength))
}

// TruncateString shortens s to maxLen with an ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
