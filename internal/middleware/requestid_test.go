package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/filterproxy/internal/observability"
)

// seenRequest is what the wrapped handler observed.
type seenRequest struct {
	contextID string
	headerID  string
}

func serveWithRequestID(mw func(http.Handler) http.Handler, inbound string) (*httptest.ResponseRecorder, seenRequest) {
	var seen seenRequest
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.contextID = observability.RequestIDFromContext(r.Context())
		seen.headerID = r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/doc.html", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequestID_GeneratesUUID(t *testing.T) {
	t.Parallel()

	rec, seen := serveWithRequestID(RequestID(), "")

	id := rec.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, seen.contextID)
	assert.Equal(t, id, seen.headerID, "generated id must be forwarded to the backend")
}

func TestRequestIDWithGenerator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		inbound string
		want    string
	}{
		{name: "missing id", inbound: "", want: "generated"},
		{name: "inbound id kept", inbound: "abc-123", want: "abc-123"},
		{name: "id with spaces replaced", inbound: "a b", want: "generated"},
		{name: "control characters replaced", inbound: "id\x01", want: "generated"},
		{name: "oversized id replaced", inbound: strings.Repeat("x", maxRequestIDLength+1), want: "generated"},
		{name: "longest accepted id", inbound: strings.Repeat("y", maxRequestIDLength), want: strings.Repeat("y", maxRequestIDLength)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mw := RequestIDWithGenerator(func() string { return "generated" })
			rec, seen := serveWithRequestID(mw, tt.inbound)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get(RequestIDHeader))
			assert.Equal(t, tt.want, seen.contextID)
			assert.Equal(t, tt.want, seen.headerID)
		})
	}
}
