// Package redact strips credentials from strings before they reach a log
// line or a chat room.
//
// The LLM backend echoes request fragments in some error bodies, and HTTP
// client errors include the request URL; both pass through String before
// being wrapped into returned errors.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Bearer removes the value of any "Bearer <token>" fragment in s, for
// bodies that reflect the Authorization header without the caller knowing
// the token.
func Bearer(s string) string {
	const marker = "Bearer "
	var b strings.Builder
	for {
		i := strings.Index(s, marker)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i+len(marker)])
		rest := s[i+len(marker):]
		end := strings.IndexAny(rest, " \t\r\n\"',;")
		if end < 0 {
			end = len(rest)
		}
		if end > 0 {
			b.WriteString(placeholder)
		}
		s = rest[end:]
	}
}
