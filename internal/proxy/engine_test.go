package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/filterproxy/internal/cache"
	"github.com/vyrodovalexey/filterproxy/internal/config"
	"github.com/vyrodovalexey/filterproxy/internal/filter"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: fixedNow}
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

// newCachingEngine wires an engine with a cache and the given filter
// rules in front of the backend at url.
func newCachingEngine(t *testing.T, url string, rules []config.FilterRuleConfig) (*Engine, *cache.ResponseCache, *testClock) {
	t.Helper()

	transport, err := NewNetworkTransport(backendConfig(t, url))
	require.NoError(t, err)
	t.Cleanup(transport.CloseIdleConnections)

	clock := newTestClock()
	responseCache := cache.New(cache.WithClock(clock.Now))
	t.Cleanup(func() { _ = responseCache.Close() })

	engine := NewEngine(transport,
		WithCache(responseCache),
		WithFilterSelector(filter.NewSelector(filter.NewRegistry(rules))),
		WithClock(clock.Now),
	)
	return engine, responseCache, clock
}

func serve(engine http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func cacheableHandler(body string, extra http.Header) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for k, v := range extra {
			w.Header()[k] = v
		}
		w.Header().Set("Cache-Control", "public, max-age=120")
		_, _ = io.WriteString(w, body)
	}
}

func replaceRule(oldText, newText string) []config.FilterRuleConfig {
	return []config.FilterRuleConfig{{
		MimeType: "text/plain",
		Path:     "*",
		Filter:   filter.IDText,
		Subfilters: []config.SubfilterConfig{{
			Filter:     filter.IDTextReplace,
			Parameters: map[string]interface{}{"old": oldText, "new": newText},
		}},
	}}
}

func TestEngine_FilteredResponseIsCached(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, cacheableHandler("<html><body>hi</body></html>", http.Header{
		"Content-Type": {"text/html"},
	}))
	engine, responseCache, _ := newCachingEngine(t, srv.URL, []config.FilterRuleConfig{{
		MimeType:   "text/html",
		Path:       "*",
		Filter:     filter.IDHTML,
		Subfilters: []config.SubfilterConfig{{Filter: filter.IDHTMLDropElements}},
	}})

	for i := 0; i < 2; i++ {
		rec := serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/page.html", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<head></head>")
		assert.NotContains(t, rec.Body.String(), "<body")
		assert.NotContains(t, rec.Body.String(), "hi")
	}

	assert.Equal(t, 1, srv.Hits(), "second request is served from the cache")
	assert.Equal(t, 1, responseCache.Len())

	res, ok := responseCache.Lookup(httptest.NewRequest(http.MethodGet, "http://proxy.local/page.html", nil))
	require.True(t, ok)
	assert.Equal(t, "<html><body>hi</body></html>", string(res.Body), "the raw backend body is stored")
	assert.Equal(t, 120*time.Second, res.MaxAge)
}

func TestEngine_NonCacheableResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		method  string
		handler http.HandlerFunc
	}{
		{
			name:    "post is never stored",
			method:  http.MethodPost,
			handler: cacheableHandler("created", nil),
		},
		{
			name:   "private response",
			method: http.MethodGet,
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Cache-Control", "private, max-age=120")
				_, _ = io.WriteString(w, "mine")
			},
		},
		{
			name:   "public without lifetime",
			method: http.MethodGet,
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Cache-Control", "public")
				_, _ = io.WriteString(w, "no lifetime")
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newRecordingServer(t, tt.handler)
			engine, responseCache, _ := newCachingEngine(t, srv.URL, nil)

			for i := 0; i < 2; i++ {
				var body io.Reader
				if tt.method == http.MethodPost {
					body = strings.NewReader("x")
				}
				rec := serve(engine, httptest.NewRequest(tt.method, "http://proxy.local/item", body))
				assert.Equal(t, http.StatusOK, rec.Code)
			}
			assert.Equal(t, 2, srv.Hits())
			assert.Zero(t, responseCache.Len())
		})
	}
}

func TestEngine_ExpiredEntryIsRefetched(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, cacheableHandler("doc", nil))
	engine, _, clock := newCachingEngine(t, srv.URL, nil)

	serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil))
	clock.Advance(121 * time.Second)
	rec := serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil))

	assert.Equal(t, "doc", rec.Body.String())
	assert.Equal(t, 2, srv.Hits())
}

func TestEngine_RevalidationConfirmed(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=120")
		_, _ = io.WriteString(w, "fresh")
	})
	engine, _, clock := newCachingEngine(t, srv.URL, nil)

	serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil))
	clock.Advance(10 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil)
	req.Header.Set("Cache-Control", "max-age=5")
	rec := serve(engine, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fresh", rec.Body.String())

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, `"v1"`, reqs[1].Header.Get("If-None-Match"))
}

func TestEngine_RevalidationRejected(t *testing.T) {
	t.Parallel()

	var version atomic.Int32
	srv := newRecordingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if version.Add(1) == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Cache-Control", "public, max-age=120")
			_, _ = io.WriteString(w, "original")
			return
		}
		w.Header().Set("ETag", `"v2"`)
		w.Header().Set("Cache-Control", "public, max-age=120")
		_, _ = io.WriteString(w, "changed")
	})
	engine, responseCache, clock := newCachingEngine(t, srv.URL, nil)

	serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil))
	clock.Advance(10 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil)
	req.Header.Set("Cache-Control", "max-age=5")
	rec := serve(engine, req)

	assert.Equal(t, "changed", rec.Body.String())
	assert.Equal(t, 3, srv.Hits(), "conditional request then full request")

	res, ok := responseCache.Lookup(req)
	require.True(t, ok)
	assert.Equal(t, `"v2"`, res.ETag)
}

func TestEngine_RevalidationBackendErrorIsForwarded(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, "busy")
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Cache-Control", "public, max-age=120")
		_, _ = io.WriteString(w, "doc")
	})
	engine, responseCache, clock := newCachingEngine(t, srv.URL, nil)

	serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil))
	clock.Advance(10 * time.Second)

	req := httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil)
	req.Header.Set("Cache-Control", "max-age=5")
	rec := serve(engine, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "busy", rec.Body.String())
	assert.Equal(t, 2, srv.Hits(), "the conditional answer is not fetched again")
	assert.Equal(t, 1, responseCache.Len(), "a backend error does not evict")
}

func TestEngine_ChunkedReplayMatchesLive(t *testing.T) {
	t.Parallel()

	// The marker straddles the first 32 KiB read of a non-chunked filter.
	body := strings.Repeat("a", 32*1024-1) + "XY" + strings.Repeat("b", 100)
	srv := newRecordingServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Cache-Control", "public, max-age=120")
		_, _ = io.WriteString(w, body[:1024])
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, body[1024:])
	})
	engine, responseCache, _ := newCachingEngine(t, srv.URL, replaceRule("XY", "--"))

	live := serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/big.txt", nil))
	replayed := serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/big.txt", nil))

	require.Equal(t, http.StatusOK, live.Code)
	require.Equal(t, http.StatusOK, replayed.Code)
	assert.NotContains(t, live.Body.String(), "XY")
	assert.Contains(t, live.Body.String(), "a--b")
	assert.Equal(t, len(live.Body.String()), len(replayed.Body.String()))
	assert.True(t, live.Body.String() == replayed.Body.String(), "replayed body differs from the live one")
	assert.Equal(t, 1, srv.Hits())

	res, ok := responseCache.Lookup(httptest.NewRequest(http.MethodGet, "http://proxy.local/big.txt", nil))
	require.True(t, ok)
	assert.True(t, res.Chunked)
	assert.Equal(t, body, string(res.Body))
}

func TestEngine_ReplayFilteredEntryToHTTP10Client(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		chunked bool
	}{
		{name: "chunked entry", chunked: true},
		{name: "entry with known length", chunked: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			selector := filter.NewSelector(filter.NewRegistry(replaceRule("secret", "[redacted]")))
			engine := NewEngine(failingTransport(errors.New("must not be used")), WithFilterSelector(selector))

			res := &cache.Resource{
				URI:        "http://proxy.local/plan.txt",
				StatusCode: http.StatusOK,
				Status:     "OK",
				Header:     http.Header{"Content-Type": {"text/plain"}},
				Body:       []byte("top secret plan"),
				CreatedAt:  fixedNow,
				MaxAge:     time.Minute,
				Chunked:    tt.chunked,
			}

			req := httptest.NewRequest(http.MethodGet, "http://proxy.local/plan.txt", nil)
			req.Proto, req.ProtoMajor, req.ProtoMinor = "HTTP/1.0", 1, 0

			rec := httptest.NewRecorder()
			engine.Replay(rec, req, res)

			want := "top [redacted] plan"
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, want, rec.Body.String())
			assert.Equal(t, strconv.Itoa(len(want)), rec.Header().Get("Content-Length"))
		})
	}
}

func TestEngine_IfModifiedSince(t *testing.T) {
	t.Parallel()

	srv := newRecordingServer(t, cacheableHandler("doc", http.Header{"Last-Modified": {olderDate}}))
	engine, _, _ := newCachingEngine(t, srv.URL, nil)

	serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil))

	req := httptest.NewRequest(http.MethodGet, "http://proxy.local/doc", nil)
	req.Header.Set("If-Modified-Since", responseDate)
	rec := serve(engine, req)

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, olderDate, rec.Header().Get("Last-Modified"))
	assert.Equal(t, 1, srv.Hits())
}

func TestEngine_Replay(t *testing.T) {
	t.Parallel()

	engine := NewEngine(failingTransport(errors.New("must not be used")))
	rec := httptest.NewRecorder()
	engine.Replay(rec, httptest.NewRequest(http.MethodGet, "http://proxy.local/page", nil), newTestResource("hello"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestEngine_BackendUnavailable(t *testing.T) {
	t.Parallel()

	engine := NewEngine(failingTransport(errors.New("connection refused")))
	rec := serve(engine, httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "close", rec.Header().Get("Connection"))
}

func TestEngine_BackendFailureAfterHeadersAborts(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		respond: func(context.Context, *BackendRequest) (*BackendResponse, error) {
			br := newBackendResponse(http.StatusOK, http.Header{"Content-Length": {"100"}}, "")
			br.Body = io.NopCloser(io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("reset"))))
			return br, nil
		},
	}
	engine := NewEngine(transport)

	rec := httptest.NewRecorder()
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://proxy.local/", nil))
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
