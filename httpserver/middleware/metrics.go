/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	httpRequestMetricsLabelMethod        = "method"
	httpRequestMetricsLabelRoutePattern  = "route_pattern"
	httpRequestMetricsLabelUserAgentType = "user_agent_type"
	httpRequestMetricsLabelStatusCode    = "status_code"
)

const (
	userAgentTypeBrowser    = "browser"
	userAgentTypeHTTPClient = "http-client"
)

// DefaultHTTPRequestDurationBuckets is default buckets into which observations of serving HTTP requests are counted.
var DefaultHTTPRequestDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HTTPRequestMetricsCollectorOpts represents an options for HTTPRequestMetricsCollector.
type HTTPRequestMetricsCollectorOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string
	// DurationBuckets is a list of buckets into which observations of serving HTTP requests are counted.
	DurationBuckets []float64
	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// HTTPRequestMetricsCollector represents collector of metrics for incoming HTTP requests.
type HTTPRequestMetricsCollector struct {
	Durations *prometheus.HistogramVec
	InFlight  *prometheus.GaugeVec
}

// NewHTTPRequestMetricsCollector creates a new metrics collector.
func NewHTTPRequestMetricsCollector() *HTTPRequestMetricsCollector {
	return NewHTTPRequestMetricsCollectorWithOpts(HTTPRequestMetricsCollectorOpts{})
}

// NewHTTPRequestMetricsCollectorWithOpts is a more configurable version of creating HTTPRequestMetricsCollector.
func NewHTTPRequestMetricsCollectorWithOpts(opts HTTPRequestMetricsCollectorOpts) *HTTPRequestMetricsCollector {
	durBuckets := opts.DurationBuckets
	if durBuckets == nil {
		durBuckets = DefaultHTTPRequestDurationBuckets
	}
	return &HTTPRequestMetricsCollector{
		Durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   opts.Namespace,
				Name:        "http_request_duration_seconds",
				Help:        "A histogram of the HTTP request durations.",
				Buckets:     durBuckets,
				ConstLabels: opts.ConstLabels,
			},
			[]string{
				httpRequestMetricsLabelMethod,
				httpRequestMetricsLabelRoutePattern,
				httpRequestMetricsLabelUserAgentType,
				httpRequestMetricsLabelStatusCode,
			},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   opts.Namespace,
				Name:        "http_requests_in_flight",
				Help:        "Current number of HTTP requests being served.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{httpRequestMetricsLabelMethod, httpRequestMetricsLabelUserAgentType},
		),
	}
}

// MustRegisterIn registers metrics in the passed registerer and panics if any error occurs.
func (c *HTTPRequestMetricsCollector) MustRegisterIn(reg prometheus.Registerer) {
	reg.MustRegister(c.Durations, c.InFlight)
}

// UnregisterFrom cancels registration of metrics in the passed registerer.
func (c *HTTPRequestMetricsCollector) UnregisterFrom(reg prometheus.Registerer) {
	reg.Unregister(c.InFlight)
	reg.Unregister(c.Durations)
}

// UserAgentTypeGetterFunc is a function for getting user agent type from the request.
// The set of return values must be finite.
type UserAgentTypeGetterFunc func(r *http.Request) string

// HTTPRequestMetricsOpts represents an options for HTTPRequestMetrics middleware.
type HTTPRequestMetricsOpts struct {
	GetUserAgentType UserAgentTypeGetterFunc
	// ExcludedEndpoints are glob patterns of URL paths that are not measured.
	ExcludedEndpoints []string
}

type httpRequestMetricsHandler struct {
	next            http.Handler
	collector       *HTTPRequestMetricsCollector
	getRoutePattern RoutePatternGetterFunc
	opts            HTTPRequestMetricsOpts
	excluded        endpointMatcher
}

// HTTPRequestMetrics is a middleware that collects metrics for incoming HTTP requests using Prometheus data types.
func HTTPRequestMetrics(
	collector *HTTPRequestMetricsCollector, getRoutePattern RoutePatternGetterFunc,
) func(next http.Handler) http.Handler {
	return HTTPRequestMetricsWithOpts(collector, getRoutePattern, HTTPRequestMetricsOpts{})
}

// HTTPRequestMetricsWithOpts is a more configurable version of HTTPRequestMetrics middleware.
func HTTPRequestMetricsWithOpts(
	collector *HTTPRequestMetricsCollector, getRoutePattern RoutePatternGetterFunc, opts HTTPRequestMetricsOpts,
) func(next http.Handler) http.Handler {
	if getRoutePattern == nil {
		panic("function for getting route pattern cannot be nil")
	}
	if opts.GetUserAgentType == nil {
		opts.GetUserAgentType = determineUserAgentType
	}
	excluded := newEndpointMatcher(opts.ExcludedEndpoints)
	return func(next http.Handler) http.Handler {
		return &httpRequestMetricsHandler{
			next: next, collector: collector, getRoutePattern: getRoutePattern, opts: opts, excluded: excluded}
	}
}

func (h *httpRequestMetricsHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if h.excluded.match(r.URL.Path) {
		h.next.ServeHTTP(rw, r)
		return
	}

	startTime := GetRequestStartTimeFromContext(r.Context())
	if startTime.IsZero() {
		startTime = time.Now()
		r = r.WithContext(NewContextWithRequestStartTime(r.Context(), startTime))
	}

	labels := prometheus.Labels{
		httpRequestMetricsLabelMethod:        r.Method,
		httpRequestMetricsLabelUserAgentType: h.opts.GetUserAgentType(r),
	}
	inFlightGauge := h.collector.InFlight.With(labels)
	inFlightGauge.Inc()
	defer inFlightGauge.Dec()

	wrw := WrapResponseWriterIfNeeded(rw, r.ProtoMajor)
	defer func() {
		// Route pattern is known only after routing is done.
		routePattern := h.getRoutePattern(r)
		if p := recover(); p != nil {
			if p != http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
				h.trackRequestEnd(labels, routePattern, http.StatusInternalServerError, startTime)
			}
			panic(p)
		}
		status := wrw.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.trackRequestEnd(labels, routePattern, status, startTime)
	}()

	h.next.ServeHTTP(wrw, r)
}

func (h *httpRequestMetricsHandler) trackRequestEnd(
	reqLabels prometheus.Labels, routePattern string, status int, startTime time.Time,
) {
	h.collector.Durations.With(prometheus.Labels{
		httpRequestMetricsLabelMethod:        reqLabels[httpRequestMetricsLabelMethod],
		httpRequestMetricsLabelUserAgentType: reqLabels[httpRequestMetricsLabelUserAgentType],
		httpRequestMetricsLabelRoutePattern:  routePattern,
		httpRequestMetricsLabelStatusCode:    strconv.Itoa(status),
	}).Observe(time.Since(startTime).Seconds())
}

func determineUserAgentType(r *http.Request) string {
	if strings.Contains(strings.ToLower(r.UserAgent()), "mozilla") {
		return userAgentTypeBrowser
	}
	return userAgentTypeHTTPClient
}
