// Package metrics provides request-level Prometheus metrics and
// process-wide aggregate counters for the gateway pipeline.
package metrics

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "gateway"
	subsystem = "http"
)

// Outcome classifications. Anything other than OutcomeSuccess counts
// toward the process-wide error total.
const (
	OutcomeSuccess  = "success"
	OutcomeCanceled = "canceled"

	// ErrorOutcomePrefix prefixes error outcomes, followed by the
	// error class, e.g. "error:server".
	ErrorOutcomePrefix = "error:"
)

// StatusUnknown is the status label for responses that never
// completed normally.
const StatusUnknown = "unknown"

// SizeUnknown marks an absent content length; unknown sizes are not
// recorded into the size distributions.
const SizeUnknown = int64(-1)

// durationBuckets spans 1ms to 10s.
var durationBuckets = prometheus.ExponentialBucketsRange(0.001, 10, 14)

// sizeBuckets defines histogram buckets for request/response sizes:
// 100, 1K, 10K, 100K, 1M, 10M, 100M.
var sizeBuckets = prometheus.ExponentialBuckets(100, 10, 7)

// RequestEvent is one completed request. Events are folded into
// aggregates and not retained.
type RequestEvent struct {
	Route    string
	Path     string
	Method   string
	Status   int // 0 when the response never completed
	Outcome  string
	Duration time.Duration

	// RequestSize and ResponseSize are byte counts, SizeUnknown when
	// no content length was known.
	RequestSize  int64
	ResponseSize int64
}

// StatusLabel returns the numeric status as a label value, or
// StatusUnknown for an incomplete response.
func (e RequestEvent) StatusLabel() string {
	if e.Status <= 0 {
		return StatusUnknown
	}
	return strconv.Itoa(e.Status)
}

// Recorder folds request completion events into Prometheus series and
// process-wide counters. All methods are safe for concurrent use.
type Recorder struct {
	requestsTotal          *prometheus.CounterVec
	errorsTotal            *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	requestSizeBytes       *prometheus.HistogramVec
	responseSizeBytes      *prometheus.HistogramVec

	totalRequests     uint64
	totalErrors       uint64
	cumulativeLatency int64 // nanoseconds
}

var (
	recorderInstance *Recorder
	recorderOnce     sync.Once
)

// GetRecorder returns the singleton request metrics recorder.
func GetRecorder() *Recorder {
	recorderOnce.Do(func() {
		recorderInstance = newRecorder()
	})
	return recorderInstance
}

func newRecorder() *Recorder {
	return &Recorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total number of completed requests",
			},
			[]string{"route", "path", "method", "status", "outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Total number of requests with a non-success outcome",
			},
			[]string{"route", "path", "method", "outcome"},
		),
		requestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_duration_seconds",
				Help:      "Request duration from receipt to completion",
				Buckets:   durationBuckets,
			},
			[]string{"route", "path", "method", "status", "outcome"},
		),
		requestSizeBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "request_size_bytes",
				Help:      "Request body size in bytes, when known",
				Buckets:   sizeBuckets,
			},
			[]string{"route", "method"},
		),
		responseSizeBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "response_size_bytes",
				Help:      "Response body size in bytes, when known",
				Buckets:   sizeBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}
}

// Record folds one completion event into the aggregates. It must be
// called exactly once per request, on every exit path.
func (r *Recorder) Record(e RequestEvent) {
	status := e.StatusLabel()

	r.requestsTotal.WithLabelValues(e.Route, e.Path, e.Method, status, e.Outcome).Inc()
	r.requestDurationSeconds.WithLabelValues(e.Route, e.Path, e.Method, status, e.Outcome).
		Observe(e.Duration.Seconds())

	if e.RequestSize != SizeUnknown && e.RequestSize >= 0 {
		r.requestSizeBytes.WithLabelValues(e.Route, e.Method).
			Observe(float64(e.RequestSize))
	}
	if e.ResponseSize != SizeUnknown && e.ResponseSize >= 0 {
		r.responseSizeBytes.WithLabelValues(e.Route, e.Method, status).
			Observe(float64(e.ResponseSize))
	}

	atomic.AddUint64(&r.totalRequests, 1)
	atomic.AddInt64(&r.cumulativeLatency, int64(e.Duration))

	if e.Outcome != OutcomeSuccess {
		r.errorsTotal.WithLabelValues(e.Route, e.Path, e.Method, e.Outcome).Inc()
		atomic.AddUint64(&r.totalErrors, 1)
	}
}

// Snapshot is a point-in-time view of the process-wide aggregates.
type Snapshot struct {
	TotalRequests     uint64
	TotalErrors       uint64
	CumulativeLatency time.Duration
}

// AverageLatency returns the running mean request duration.
func (s Snapshot) AverageLatency() time.Duration {
	if s.TotalRequests == 0 {
		return 0
	}
	return s.CumulativeLatency / time.Duration(s.TotalRequests)
}

// ErrorRate returns the fraction of requests with a non-success
// outcome, in [0, 1].
func (s Snapshot) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests)
}

// Snapshot returns the current process-wide aggregates.
func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests:     atomic.LoadUint64(&r.totalRequests),
		TotalErrors:       atomic.LoadUint64(&r.totalErrors),
		CumulativeLatency: time.Duration(atomic.LoadInt64(&r.cumulativeLatency)),
	}
}

// MustRegister registers all recorder collectors with the given
// registry. promauto registers with the default global registry; this
// bridges them onto the registry served at /metrics.
// Already-registered collectors are ignored.
func (r *Recorder) MustRegister(registry *prometheus.Registry) {
	collectors := []prometheus.Collector{
		r.requestsTotal,
		r.errorsTotal,
		r.requestDurationSeconds,
		r.requestSizeBytes,
		r.responseSizeBytes,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}
