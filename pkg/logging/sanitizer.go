// Package logging provides sanitization helpers for log output and
// user-facing error messages. Nothing that identifies credentials or
// infrastructure (passwords, API keys, hosts embedded in connection errors)
// may cross the external boundary or land in logs.
package logging

import (
	"regexp"
)

const (
	// MaxQueryLogLength caps SQL text in log lines.
	MaxQueryLogLength = 200
	// RedactedText replaces sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// api_key=xxxx style secrets
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|token)=[A-Za-z0-9-_]{16,}`)

	// user:pass@host in URL-style connection strings
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// host=name / addr=1.2.3.4 fragments pgx includes in dial errors
	hostPattern = regexp.MustCompile(`(?i)(host|hostaddr|addr(?:ess)?)=[^;&\s)]+`)

	// dial tcp 1.2.3.4:5432 fragments from net errors
	dialPattern = regexp.MustCompile(`dial tcp [^\s:]+:\d+`)
)

// Error sanitizes an error message for logging. Passwords, keys, connection
// strings, and host details are redacted.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Message(err.Error())
}

// Message sanitizes an arbitrary string the same way Error does.
func Message(s string) string {
	s = passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = apiKeyPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = connStringPattern.ReplaceAllString(s, "://"+RedactedText+"@"+RedactedText)
	s = hostPattern.ReplaceAllString(s, "${1}="+RedactedText)
	s = dialPattern.ReplaceAllString(s, "dial tcp "+RedactedText)
	return s
}

// ConnString sanitizes a connection string for logging.
func ConnString(connStr string) string {
	return Message(connStr)
}

// Query truncates and sanitizes SQL text for logging.
func Query(query string) string {
	if len(query) > MaxQueryLogLength {
		query = query[:MaxQueryLogLength] + "..."
	}
	return Message(query)
}
