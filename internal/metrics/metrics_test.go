package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", SanitizeSite("https://Example.com/path"))
	assert.Equal(t, "example.com", SanitizeSite("example.com"))
	assert.Equal(t, "unknown", SanitizeSite("http://"))
}

func TestObserveHelpersUpdateCollectors(t *testing.T) {
	Init()

	before := testutil.ToFloat64(outcomesTotal.WithLabelValues("terminal", "success"))
	ObserveOutcome("terminal", "success")
	require.Equal(t, before+1, testutil.ToFloat64(outcomesTotal.WithLabelValues("terminal", "success")))

	bytesBefore := testutil.ToFloat64(bytesWrittenTotal)
	ObserveBytesWritten(128)
	ObserveBytesWritten(0)
	require.Equal(t, bytesBefore+128, testutil.ToFloat64(bytesWrittenTotal))

	IncInFlight()
	IncInFlight()
	DecInFlight()
	DecInFlight()
	require.Equal(t, 0.0, testutil.ToFloat64(inFlightTasks))

	ObserveRateLimitDelay("example.com", 10*time.Millisecond)
	ObserveFetchAttempt("https://example.com/a", "colly")
	ObserveRetry()
	ObserveRecord()
	ObserveRobotsDisallowed("https://example.com/private")
}

func TestHandlerExposesMetrics(t *testing.T) {
	Init()
	ObserveRecord()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "scraper_records_total"))
}
