package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/filterproxy/internal/cache"
)

func newTestResource(body string) *cache.Resource {
	return &cache.Resource{
		URI:        "http://example.com/page",
		StatusCode: http.StatusOK,
		Status:     "OK",
		Header: http.Header{
			"Content-Type":   {"text/plain"},
			"Content-Length": {"5"},
		},
		Body:      []byte(body),
		CreatedAt: time.Now(),
		MaxAge:    time.Minute,
	}
}

func TestReplayTransport_RoundTrip(t *testing.T) {
	t.Parallel()

	res := newTestResource("hello")
	transport := NewReplayTransport(res)

	resp, err := transport.RoundTrip(context.Background(), &BackendRequest{
		Method: http.MethodGet,
		URI:    "/page",
		Body:   strings.NewReader("ignored"),
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", resp.Status)
	assert.Equal(t, int64(5), resp.ContentLength)
	assert.Empty(t, resp.TransferEncodings())

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	// The resource must stay untouched.
	resp.Header.Set("X-Modified", "1")
	assert.Empty(t, res.Header.Get("X-Modified"))
}

func TestReplayTransport_ChunkedResource(t *testing.T) {
	t.Parallel()

	res := newTestResource("hello")
	res.Header.Del("Content-Length")
	res.Chunked = true

	resp, err := NewReplayTransport(res).RoundTrip(context.Background(), &BackendRequest{Method: http.MethodGet, URI: "/page"})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, []string{"chunked"}, resp.TransferEncodings())
	assert.Equal(t, int64(-1), resp.ContentLength)
}

func TestReplayTransport_RepeatedReplays(t *testing.T) {
	t.Parallel()

	transport := NewReplayTransport(newTestResource("hello"))
	for i := 0; i < 3; i++ {
		resp, err := transport.RoundTrip(context.Background(), &BackendRequest{Method: http.MethodGet, URI: "/"})
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
	}
}

func TestReplayTransport_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReplayTransport(newTestResource("x")).RoundTrip(ctx, &BackendRequest{Method: http.MethodGet, URI: "/"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackendResponse_TransferEncodings(t *testing.T) {
	t.Parallel()

	resp := &BackendResponse{
		TransferEncoding: []string{"chunked"},
		Header:           http.Header{"Transfer-Encoding": {"gzip, chunked"}},
	}
	assert.Equal(t, []string{"chunked", "gzip", "chunked"}, resp.TransferEncodings())
}

func TestReasonPhrase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Not Found", reasonPhrase("404 Not Found", 404))
	assert.Equal(t, "Custom", reasonPhrase("Custom", 299))
	assert.Equal(t, "OK", reasonPhrase("", 200))
}
