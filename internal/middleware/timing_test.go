package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetra/gateway/internal/metrics"
)

func newTimingHandler(t *testing.T, next http.HandlerFunc, opts ...TimingOption) http.Handler {
	t.Helper()
	timing := NewTiming(metrics.GetRecorder(), time.Second, opts...)
	return timing.Middleware()(next)
}

func TestTiming_SetsDiagnosticHeaders(t *testing.T) {
	handler := newTimingHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	before := time.Now().UnixMilli()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	after := time.Now().UnixMilli()

	start, err := strconv.ParseInt(rec.Header().Get(HeaderRequestStart), 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, start, before)
	assert.LessOrEqual(t, start, after)

	elapsed, err := strconv.ParseInt(rec.Header().Get(HeaderResponseTime), 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, int64(0))

	assert.Equal(t, metrics.OutcomeSuccess, rec.Header().Get(HeaderRequestOutcome))
}

func TestTiming_OutcomeByStatus(t *testing.T) {
	tests := []struct {
		status  int
		outcome string
	}{
		{http.StatusOK, metrics.OutcomeSuccess},
		{http.StatusNotFound, metrics.ErrorOutcomePrefix + "client"},
		{http.StatusUnauthorized, metrics.ErrorOutcomePrefix + "client"},
		{http.StatusBadGateway, metrics.ErrorOutcomePrefix + "server"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			handler := newTimingHandler(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.outcome, rec.Header().Get(HeaderRequestOutcome))
		})
	}
}

func TestTiming_RecordsEveryExit(t *testing.T) {
	recorder := metrics.GetRecorder()

	before := recorder.Snapshot()

	handler := newTimingHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	after := recorder.Snapshot()
	assert.Equal(t, before.TotalRequests+1, after.TotalRequests)
	assert.Equal(t, before.TotalErrors+1, after.TotalErrors)
}

func TestTiming_ImplicitOKCountsAsSuccess(t *testing.T) {
	recorder := metrics.GetRecorder()
	before := recorder.Snapshot()

	// Handler neither writes a header nor a body; net/http commits an
	// implicit 200 after it returns.
	handler := newTimingHandler(t, func(w http.ResponseWriter, r *http.Request) {})
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	after := recorder.Snapshot()
	assert.Equal(t, before.TotalRequests+1, after.TotalRequests)
	assert.Equal(t, before.TotalErrors, after.TotalErrors)
}

func TestTiming_CanceledRequestStillRecorded(t *testing.T) {
	recorder := metrics.GetRecorder()
	before := recorder.Snapshot()

	handler := newTimingHandler(t, func(w http.ResponseWriter, r *http.Request) {
		// Abort without committing a response, as a handler observing
		// r.Context() would.
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	handler.ServeHTTP(httptest.NewRecorder(), req)

	after := recorder.Snapshot()
	assert.Equal(t, before.TotalRequests+1, after.TotalRequests)
	assert.Equal(t, before.TotalErrors+1, after.TotalErrors,
		"a canceled request counts toward the error total")
}

func TestTiming_RecordsThenRepanics(t *testing.T) {
	recorder := metrics.GetRecorder()
	before := recorder.Snapshot()

	handler := newTimingHandler(t, func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	assert.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	after := recorder.Snapshot()
	assert.Equal(t, before.TotalRequests+1, after.TotalRequests,
		"a panicking request is still a completed request")
}

func TestTiming_WriteWithoutHeaderCommitsOK(t *testing.T) {
	handler := newTimingHandler(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit"))
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, metrics.OutcomeSuccess, rec.Header().Get(HeaderRequestOutcome))
}

func TestTiming_FlushBeforeWriteCommitsOK(t *testing.T) {
	handler := newTimingHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("streamed"))
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, rec.Flushed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, metrics.OutcomeSuccess, rec.Header().Get(HeaderRequestOutcome))
	assert.NotEmpty(t, rec.Header().Get(HeaderResponseTime),
		"flush commits the response, the stamps must already be set")
}
