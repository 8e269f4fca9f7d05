package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/perimetra/gateway/internal/metrics"
	"github.com/perimetra/gateway/internal/observability"
)

// Diagnostic headers set by the timing stage.
const (
	// HeaderResponseTime is the elapsed handling time in milliseconds.
	HeaderResponseTime = "X-Response-Time"

	// HeaderRequestOutcome is the outcome classification.
	HeaderRequestOutcome = "X-Request-Outcome"

	// HeaderRequestStart is the receipt timestamp in epoch millis.
	HeaderRequestStart = "X-Request-Start"
)

// defaultRoute labels requests when no route name is configured.
const defaultRoute = "default"

// timingWriter captures status and size, and injects the timing
// headers just before the response commits. After commit the headers
// are immutable, so this is the last moment they can be written.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	status      int
	size        int
	wroteHeader bool
}

func (tw *timingWriter) WriteHeader(code int) {
	if tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.status = code

	elapsed := time.Since(tw.start)
	tw.Header().Set(HeaderResponseTime,
		strconv.FormatInt(elapsed.Milliseconds(), 10))
	tw.Header().Set(HeaderRequestOutcome, outcomeForStatus(code))

	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timingWriter) Write(b []byte) (int, error) {
	if !tw.wroteHeader {
		tw.WriteHeader(http.StatusOK)
	}
	n, err := tw.ResponseWriter.Write(b)
	tw.size += n
	return n, err
}

func (tw *timingWriter) Flush() {
	// Flushing commits the response, so stamp the headers first or
	// they are lost and the status never observed.
	if !tw.wroteHeader {
		tw.WriteHeader(http.StatusOK)
	}
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Timing is the completion observer of the pipeline. It must wrap
// every later stage so the completion event fires on each exit path,
// including short-circuit rejections and client disconnects.
type Timing struct {
	recorder      *metrics.Recorder
	logger        observability.Logger
	slowThreshold time.Duration
	route         string
}

// TimingOption is a functional option for the timing stage.
type TimingOption func(*Timing)

// WithTimingRoute sets the route label attached to recorded events.
func WithTimingRoute(route string) TimingOption {
	return func(t *Timing) {
		t.route = route
	}
}

// WithTimingLogger sets the logger for the timing stage.
func WithTimingLogger(logger observability.Logger) TimingOption {
	return func(t *Timing) {
		t.logger = logger
	}
}

// NewTiming creates the timing stage. Requests slower than
// slowThreshold are logged but never rejected or altered.
func NewTiming(recorder *metrics.Recorder, slowThreshold time.Duration, opts ...TimingOption) *Timing {
	t := &Timing{
		recorder:      recorder,
		logger:        observability.NopLogger(),
		slowThreshold: slowThreshold,
		route:         defaultRoute,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Middleware returns the completion observer middleware.
func (t *Timing) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			tw := &timingWriter{
				ResponseWriter: w,
				start:          start,
			}
			tw.Header().Set(HeaderRequestStart,
				strconv.FormatInt(start.UnixMilli(), 10))

			// Record on every exit path. A panic escaping a later
			// stage is still a completed request from the metrics'
			// point of view, so record before re-panicking.
			defer func() {
				rec := recover()
				t.complete(r, tw, time.Since(start), rec != nil)
				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(tw, r)
		})
	}
}

// complete folds the finished request into the recorder and flags
// slow requests.
func (t *Timing) complete(r *http.Request, tw *timingWriter, duration time.Duration, panicked bool) {
	status := tw.status
	outcome := outcomeForStatus(status)

	switch {
	case panicked:
		status = 0
		outcome = metrics.ErrorOutcomePrefix + "panic"
	case !tw.wroteHeader && r.Context().Err() != nil:
		// The caller went away before the response committed; there
		// is no status and nothing left to write to.
		status = 0
		outcome = metrics.OutcomeCanceled
	case !tw.wroteHeader:
		// The handler returned without writing; net/http commits an
		// implicit 200.
		status = http.StatusOK
		outcome = metrics.OutcomeSuccess
	}

	responseSize := metrics.SizeUnknown
	if tw.wroteHeader {
		responseSize = int64(tw.size)
	}
	requestSize := r.ContentLength
	if requestSize < 0 {
		requestSize = metrics.SizeUnknown
	}

	t.recorder.Record(metrics.RequestEvent{
		Route:        t.route,
		Path:         r.URL.Path,
		Method:       r.Method,
		Status:       status,
		Outcome:      outcome,
		Duration:     duration,
		RequestSize:  requestSize,
		ResponseSize: responseSize,
	})

	if t.slowThreshold > 0 && duration > t.slowThreshold {
		GetMiddlewareMetrics().slowRequestsTotal.Inc()
		t.logger.Warn("slow request",
			observability.String("method", r.Method),
			observability.String("path", r.URL.Path),
			observability.Int("status", status),
			observability.Duration("duration", duration),
			observability.Duration("threshold", t.slowThreshold),
			observability.String("request_id", observability.RequestIDFromContext(r.Context())),
		)
	}
}

// outcomeForStatus classifies a committed status code.
func outcomeForStatus(status int) string {
	switch {
	case status >= 500:
		return metrics.ErrorOutcomePrefix + "server"
	case status >= 400:
		return metrics.ErrorOutcomePrefix + "client"
	default:
		return metrics.OutcomeSuccess
	}
}
