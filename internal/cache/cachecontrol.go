package cache

import (
	"strings"
	"time"

	"github.com/lestrrat-go/httpcc"
)

// Directives holds the Cache-Control directives relevant to caching decisions.
type Directives struct {
	Public bool
	// MaxAge is negative when no usable max-age directive is present.
	MaxAge time.Duration
}

// HasMaxAge reports whether a max-age directive was present.
func (d Directives) HasMaxAge() bool {
	return d.MaxAge >= 0
}

// ParseCacheControl parses a response Cache-Control header value.
// Directive names are matched case-insensitively. A malformed header
// yields a non-public directive set without max-age.
func ParseCacheControl(value string) Directives {
	d := Directives{MaxAge: -1}

	normalized := normalizeDirectives(value)
	if normalized == "" {
		return d
	}

	parsed, err := httpcc.ParseResponse(normalized)
	if err != nil {
		return d
	}

	d.Public = parsed.Public()
	if secs, ok := parsed.MaxAge(); ok {
		d.MaxAge = secondsToDuration(secs)
	}
	return d
}

// ParseRequestMaxAge returns the max-age of a request Cache-Control header.
func ParseRequestMaxAge(value string) (time.Duration, bool) {
	normalized := normalizeDirectives(value)
	if normalized == "" {
		return 0, false
	}

	parsed, err := httpcc.ParseRequest(normalized)
	if err != nil {
		return 0, false
	}

	secs, ok := parsed.MaxAge()
	if !ok {
		return 0, false
	}
	return secondsToDuration(secs), true
}

// normalizeDirectives lowercases directive names, drops empty members
// and removes optional whitespace around commas.
func normalizeDirectives(value string) string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.IndexByte(part, '='); idx >= 0 {
			part = strings.ToLower(strings.TrimSpace(part[:idx])) + "=" + strings.TrimSpace(part[idx+1:])
		} else {
			part = strings.ToLower(part)
		}
		out = append(out, part)
	}
	return strings.Join(out, ",")
}

const maxAgeSeconds = uint64(1<<63-1) / uint64(time.Second)

func secondsToDuration(secs uint64) time.Duration {
	if secs > maxAgeSeconds {
		secs = maxAgeSeconds
	}
	return time.Duration(secs) * time.Second
}
