package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "coverage-agent", r.UserAgent())
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	defer srv.Close()

	f := New(srv.Client().Transport, Config{UserAgent: "coverage-agent", Headers: http.Header{"X-Trace": {"yes"}}})
	page, err := f.Fetch(context.Background(), srv.URL+"/index.html")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, string(page.Body), "ok")
	assert.Equal(t, srv.URL+"/index.html", page.URL)
	assert.Equal(t, "text/html", page.Headers.Get("Content-Type"))
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "again")
	}))
	defer srv.Close()

	f := New(srv.Client().Transport, Config{})
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), srv.URL+"/same")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchNon2xxReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "busy")
	}))
	defer srv.Close()

	f := New(srv.Client().Transport, Config{})
	page, err := f.Fetch(context.Background(), srv.URL)
	var statusErr *pipeline.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, page.StatusCode)
	assert.Equal(t, "busy", string(page.Body))
}

func TestFetchMalformedURL(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{})
	for _, raw := range []string{"", "ftp://example.com/x", "not a url", "http://"} {
		_, err := f.Fetch(context.Background(), raw)
		require.ErrorIs(t, err, pipeline.ErrMalformedURL, raw)
	}
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		fmt.Fprint(w, "late")
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f := New(srv.Client().Transport, Config{})
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchCancelAbortsRequestInFlight(t *testing.T) {
	t.Parallel()

	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(aborted)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	f := New(srv.Client().Transport, Config{Timeout: time.Minute})
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("request kept running after cancel")
	}
}

type stubGate struct{ calls atomic.Int32 }

func (g *stubGate) Wait(context.Context, string) error {
	g.calls.Add(1)
	return nil
}

type denyAll struct{}

func (denyAll) Check(_ context.Context, rawURL string) error {
	return fmt.Errorf("%w: %s", pipeline.ErrDisallowed, rawURL)
}

func TestFetchOptions(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	gate := &stubGate{}
	f := New(srv.Client().Transport, Config{}, WithRateLimit(gate))
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(1), gate.calls.Load())

	blocked := New(srv.Client().Transport, Config{}, WithRobots(denyAll{}))
	_, err = blocked.Fetch(context.Background(), srv.URL+"/private")
	require.ErrorIs(t, err, pipeline.ErrDisallowed)
	assert.Equal(t, int32(1), hits.Load())
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{Headers: http.Header{"X-Trace": {"yes"}}})
	var page pipeline.Page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, "https://example.com", time.Now(), &page, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	assert.Equal(t, http.StatusCreated, page.StatusCode)
	assert.Equal(t, "body", string(page.Body))
	assert.Equal(t, "ok", page.Headers.Get("X-Resp"))
	assert.Equal(t, "https://example.com/final", page.BaseURL())

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }
