package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/synthesis-engine/internal/engine"
)

func TestFetchPage(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "test-agent", r.UserAgent())
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte("<rss></rss>"))
	}))
	defer srv.Close()

	limiter := &countingWaiter{}
	f := New(Config{UserAgent: "test-agent", Headers: http.Header{"X-Trace": {"yes"}}}, limiter, zap.NewNop())

	for i := 0; i < 2; i++ {
		page, err := f.FetchPage(context.Background(), srv.URL+"/feed")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, page.StatusCode)
		require.Equal(t, "application/rss+xml", page.ContentType)
		require.Equal(t, "<rss></rss>", string(page.Body))
	}
	require.Equal(t, int32(2), hits.Load(), "revisits must reach the server")
	require.Equal(t, int32(2), limiter.calls.Load())
}

func TestFetchPageErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{}, nil, zap.NewNop())
	_, err := f.FetchPage(context.Background(), srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
}

func TestFetchPageLimiterError(t *testing.T) {
	t.Parallel()

	f := New(Config{}, &countingWaiter{err: errors.New("denied")}, zap.NewNop())
	_, err := f.FetchPage(context.Background(), "https://example.com")
	require.EqualError(t, err, "denied")
}

func TestFetchPageCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 5 * time.Second}, nil, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.FetchPage(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil, zap.NewNop())
	var page engine.Page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &page, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/html"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusCreated, page.StatusCode)
	require.Equal(t, "body", string(page.Body))
	require.Equal(t, "text/html", page.ContentType)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("bad gateway"))
	require.EqualError(t, fetchErr, "status 502: bad gateway")
	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type countingWaiter struct {
	calls atomic.Int32
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return w.err
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
