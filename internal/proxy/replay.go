package proxy

import (
	"bytes"
	"context"
	"io"

	"github.com/vyrodovalexey/filterproxy/internal/cache"
)

// ReplayTransport answers every request with a cached resource without
// any network I/O.
type ReplayTransport struct {
	res *cache.Resource
}

// NewReplayTransport creates a transport replaying res.
func NewReplayTransport(res *cache.Resource) *ReplayTransport {
	return &ReplayTransport{res: res}
}

// RoundTrip implements Transport. The request body is discarded. A
// resource received chunked is replayed chunked.
func (t *ReplayTransport) RoundTrip(ctx context.Context, req *BackendRequest) (*BackendResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Body != nil {
		_, _ = io.Copy(io.Discard, req.Body)
	}

	resp := &BackendResponse{
		StatusCode:    t.res.StatusCode,
		Status:        t.res.Status,
		Header:        t.res.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(t.res.Body)),
		ContentLength: int64(len(t.res.Body)),
	}
	if t.res.Chunked {
		resp.TransferEncoding = []string{"chunked"}
		resp.ContentLength = -1
	}
	return resp, nil
}
