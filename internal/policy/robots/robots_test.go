package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
)

func TestEnforcerCheck(t *testing.T) {
	var robotsHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			fmt.Fprintln(w, "User-agent: *\nDisallow: /blocked")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := New(srv.Client(), "test-agent", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, e.Check(ctx, srv.URL+"/allowed"))
	err := e.Check(ctx, srv.URL+"/blocked/page.html")
	require.ErrorIs(t, err, pipeline.ErrDisallowed)
	require.Equal(t, int32(1), robotsHits.Load(), "robots.txt is cached per host")
}

func TestEnforcerAllowsWhenRobotsMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := New(srv.Client(), "test-agent", nil)
	require.NoError(t, e.Check(context.Background(), srv.URL+"/anything"))
}

func TestEnforcerAllowsWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	e := New(nil, "test-agent", nil)
	require.NoError(t, e.Check(context.Background(), addr+"/page"))
}

func TestNilEnforcerAllows(t *testing.T) {
	var e *Enforcer
	require.NoError(t, e.Check(context.Background(), "https://example.com/"))
}
