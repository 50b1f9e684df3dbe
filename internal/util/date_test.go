package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseHTTPDate(t *testing.T) {
	t.Parallel()

	want := time.Date(2015, time.October, 21, 7, 28, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		wantOK bool
	}{
		{name: "rfc1123", value: "Wed, 21 Oct 2015 07:28:00 GMT", wantOK: true},
		{name: "rfc850", value: "Wednesday, 21-Oct-15 07:28:00 GMT", wantOK: true},
		{name: "asctime", value: "Wed Oct 21 07:28:00 2015", wantOK: true},
		{name: "surrounding spaces", value: "  Wed, 21 Oct 2015 07:28:00 GMT ", wantOK: true},
		{name: "empty", value: "", wantOK: false},
		{name: "garbage", value: "yesterday", wantOK: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ParseHTTPDate(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestFormatHTTPDate(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CEST", 2*60*60)
	ts := time.Date(2015, time.October, 21, 9, 28, 0, 0, loc)

	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", FormatHTTPDate(ts))
}

func TestParseWarningDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		value  string
		wantOK bool
	}{
		{
			name:   "with warn-date",
			value:  `110 anderson/1.3.37 "Response is stale" "Wed, 21 Oct 2015 07:28:00 GMT"`,
			wantOK: true,
		},
		{
			name:   "escaped quote in text",
			value:  `199 - "a \"quoted\" text" "Wed, 21 Oct 2015 07:28:00 GMT"`,
			wantOK: true,
		},
		{
			name:   "without warn-date",
			value:  `110 - "Response is stale"`,
			wantOK: false,
		},
		{
			name:   "malformed warn-date",
			value:  `110 - "Response is stale" "not a date"`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := ParseWarningDate(tt.value)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", FormatHTTPDate(got))
			}
		})
	}
}
