package cache

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend records which Backend method the cache invoked.
type recordingBackend struct {
	mu          sync.Mutex
	replays     []*Resource
	revalidates []*Resource
}

func (b *recordingBackend) Replay(w http.ResponseWriter, _ *http.Request, res *Resource) {
	b.mu.Lock()
	b.replays = append(b.replays, res)
	b.mu.Unlock()
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

func (b *recordingBackend) Revalidate(w http.ResponseWriter, _ *http.Request, res *Resource) {
	b.mu.Lock()
	b.revalidates = append(b.revalidates, res)
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T) (*ResponseCache, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	c := New(WithClock(clock.Now))
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func storeResource(t *testing.T, c *ResponseCache, target string, maxAge time.Duration, header http.Header, body string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	require.True(t, c.MaybeStore(req, newFakeResponse(maxAge, header), []byte(body)))
}

func TestResponseCache_MaybeStore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		resp   *fakeResponse
		want   bool
	}{
		{name: "public get with max-age", method: http.MethodGet, resp: newFakeResponse(time.Minute, nil), want: true},
		{name: "post is never stored", method: http.MethodPost, resp: newFakeResponse(time.Minute, nil), want: false},
		{name: "head is not stored", method: http.MethodHead, resp: newFakeResponse(time.Minute, nil), want: false},
		{
			name:   "not public",
			method: http.MethodGet,
			resp:   &fakeResponse{status: 200, header: http.Header{}, maxAge: time.Minute},
			want:   false,
		},
		{name: "zero max-age", method: http.MethodGet, resp: newFakeResponse(0, nil), want: false},
		{name: "negative max-age", method: http.MethodGet, resp: newFakeResponse(-1, nil), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newTestCache(t)
			req := httptest.NewRequest(tt.method, "/a", nil)

			assert.Equal(t, tt.want, c.MaybeStore(req, tt.resp, []byte("body")))
			_, found := c.Lookup(httptest.NewRequest(http.MethodGet, "/a", nil))
			assert.Equal(t, tt.want, found)
		})
	}
}

func TestResponseCache_TryServe_Miss(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	backend := &recordingBackend{}

	rec := httptest.NewRecorder()
	assert.False(t, c.TryServe(rec, httptest.NewRequest(http.MethodGet, "/missing", nil), backend))
	assert.Empty(t, backend.replays)
}

func TestResponseCache_TryServe_Replay(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(t)
	backend := &recordingBackend{}
	storeResource(t, c, "/page.html", 120*time.Second, nil, "cached")

	clock.Advance(60 * time.Second)

	rec := httptest.NewRecorder()
	assert.True(t, c.TryServe(rec, httptest.NewRequest(http.MethodGet, "/page.html", nil), backend))
	require.Len(t, backend.replays, 1)
	assert.Equal(t, "cached", rec.Body.String())
}

func TestResponseCache_TryServe_NonSafeMethodBypasses(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	backend := &recordingBackend{}
	storeResource(t, c, "/a", time.Minute, nil, "cached")

	assert.False(t, c.TryServe(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/a", nil), backend))
	assert.Empty(t, backend.replays)
}

func TestResponseCache_TryServe_HardExpiry(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(t)
	backend := &recordingBackend{}
	storeResource(t, c, "/a", 10*time.Second, nil, "cached")

	clock.Advance(10 * time.Second)

	assert.False(t, c.TryServe(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a", nil), backend))
	assert.Empty(t, backend.replays)
	assert.Equal(t, 0, c.Len(), "expired entry is evicted on read")
}

func TestResponseCache_TryServe_ClientMaxAge(t *testing.T) {
	t.Parallel()

	etagHeader := http.Header{"Etag": []string{`"v1"`}}

	tests := []struct {
		name            string
		header          http.Header
		cacheControl    string
		wantServed      bool
		wantRevalidates int
		wantReplays     int
	}{
		{
			name:         "within client max-age",
			header:       etagHeader,
			cacheControl: "max-age=60",
			wantServed:   true,
			wantReplays:  1,
		},
		{
			name:            "too old with etag revalidates",
			header:          etagHeader,
			cacheControl:    "max-age=10",
			wantServed:      true,
			wantRevalidates: 1,
		},
		{
			name:         "too old without etag forces live fetch",
			header:       nil,
			cacheControl: "max-age=10",
			wantServed:   false,
		},
		{
			name:            "max-age zero revalidates",
			header:          etagHeader,
			cacheControl:    "max-age=0",
			wantServed:      true,
			wantRevalidates: 1,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, clock := newTestCache(t)
			backend := &recordingBackend{}
			storeResource(t, c, "/a", 120*time.Second, tt.header, "cached")
			clock.Advance(30 * time.Second)

			req := httptest.NewRequest(http.MethodGet, "/a", nil)
			req.Header.Set("Cache-Control", tt.cacheControl)

			assert.Equal(t, tt.wantServed, c.TryServe(httptest.NewRecorder(), req, backend))
			assert.Len(t, backend.revalidates, tt.wantRevalidates)
			assert.Len(t, backend.replays, tt.wantReplays)
		})
	}
}

func TestResponseCache_TryServe_IfModifiedSince(t *testing.T) {
	t.Parallel()

	lastModified := "Wed, 01 May 2024 08:00:00 GMT"

	tests := []struct {
		name        string
		method      string
		ims         string
		wantStatus  int
		wantReplays int
	}{
		{name: "equal", method: http.MethodGet, ims: lastModified, wantStatus: http.StatusNotModified},
		{name: "later", method: http.MethodGet, ims: "Wed, 01 May 2024 09:00:00 GMT", wantStatus: http.StatusNotModified},
		{name: "head", method: http.MethodHead, ims: lastModified, wantStatus: http.StatusNotModified},
		{name: "earlier", method: http.MethodGet, ims: "Wed, 01 May 2024 07:00:00 GMT", wantStatus: http.StatusOK, wantReplays: 1},
		{name: "malformed", method: http.MethodGet, ims: "yesterday", wantStatus: http.StatusOK, wantReplays: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newTestCache(t)
			backend := &recordingBackend{}
			header := http.Header{}
			header.Set("Last-Modified", lastModified)
			header.Set("ETag", `"v1"`)
			storeResource(t, c, "/a", time.Minute, header, "cached")

			req := httptest.NewRequest(tt.method, "/a", nil)
			req.Header.Set("If-Modified-Since", tt.ims)
			rec := httptest.NewRecorder()

			assert.True(t, c.TryServe(rec, req, backend))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Len(t, backend.replays, tt.wantReplays)
			if tt.wantStatus == http.StatusNotModified {
				assert.Empty(t, rec.Body.String())
				assert.Equal(t, `"v1"`, rec.Header().Get("ETag"))
				assert.NotEmpty(t, rec.Header().Get("Date"))
			}
		})
	}
}

func TestResponseCache_TryServe_IfModifiedSinceWithoutLastModified(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	backend := &recordingBackend{}
	storeResource(t, c, "/a", time.Minute, nil, "cached")

	req := httptest.NewRequest(http.MethodGet, "/a", nil)
	req.Header.Set("If-Modified-Since", "Wed, 01 May 2024 09:00:00 GMT")

	assert.True(t, c.TryServe(httptest.NewRecorder(), req, backend))
	assert.Len(t, backend.replays, 1)
}

func TestResponseCache_Revalidate(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	storeResource(t, c, "/a", time.Minute, http.Header{"Etag": []string{`"v1"`}}, "cached")

	res, ok := c.Lookup(httptest.NewRequest(http.MethodGet, "/a", nil))
	require.True(t, ok)

	assert.True(t, c.Revalidate(res, `"v1"`))
	assert.True(t, c.Revalidate(res, ""))
	assert.Equal(t, 1, c.Len())

	assert.False(t, c.Revalidate(res, `"v2"`))
	assert.Equal(t, 0, c.Len())
}

func TestResponseCache_SweepLoop(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Now()}
	c := New(WithClock(clock.Now), WithCleanupInterval(10*time.Millisecond))
	c.Start()
	defer func() { _ = c.Close() }()

	storeResource(t, c, "/a", time.Second, nil, "x")
	storeResource(t, c, "/b", time.Hour, nil, "y")
	clock.Advance(2 * time.Second)

	assert.Eventually(t, func() bool { return c.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
