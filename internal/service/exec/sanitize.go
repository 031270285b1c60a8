package exec

import "regexp"

// Credential patterns scrubbed from error messages before they are stored or
// pushed to subscribers. Engines echo connection strings back in their
// errors, so anything that looks like a secret is masked.
var (
	keyValueSecret = regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|token)\s*=\s*[^;\s&"']+`)
	urlCredential  = regexp.MustCompile(`\b([a-zA-Z][a-zA-Z0-9+.-]*://[^:/@\s]+):([^@/\s]+)@`)
	dsnCredential  = regexp.MustCompile(`\b([a-zA-Z0-9_.-]+):([^@\s()]+)@(tcp|unix)\(`)
)

// sanitizeError masks embedded passwords, URL userinfo, and DSN credentials
// in a driver error message.
func sanitizeError(msg string) string {
	msg = keyValueSecret.ReplaceAllString(msg, "$1=***")
	msg = urlCredential.ReplaceAllString(msg, "$1:***@")
	msg = dsnCredential.ReplaceAllString(msg, "$1:***@$3(")
	return msg
}
