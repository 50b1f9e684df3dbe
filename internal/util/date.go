package util

import (
	"net/http"
	"strings"
	"time"
)

// ParseHTTPDate parses an HTTP date header value (RFC 1123, RFC 850 or
// ANSI C asctime). It reports false when the value is empty or malformed.
func ParseHTTPDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(value)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// FormatHTTPDate formats t as an IMF-fixdate in GMT.
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseWarningDate extracts the optional warn-date from a Warning header
// value of the form: 110 agent "text" "Mon, 02 Jan 2006 15:04:05 GMT".
// The warn-date is the second quoted string.
func ParseWarningDate(value string) (time.Time, bool) {
	quoted := quotedStrings(value)
	if len(quoted) < 2 {
		return time.Time{}, false
	}
	return ParseHTTPDate(quoted[1])
}

// quotedStrings returns the quoted-string parts of a header value,
// honoring backslash escapes.
func quotedStrings(value string) []string {
	var (
		parts   []string
		current strings.Builder
		inQuote bool
		escaped bool
	)
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case !inQuote:
			if c == '"' {
				inQuote = true
				current.Reset()
			}
		case escaped:
			current.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			parts = append(parts, current.String())
			inQuote = false
		default:
			current.WriteByte(c)
		}
	}
	return parts
}
