/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-lrucache/log"
)

// DefaultSlowRequestThreshold is used when LoggingOpts.SlowRequestThreshold is not set.
const DefaultSlowRequestThreshold = time.Second

// LoggingOpts represents an options for Logging middleware.
type LoggingOpts struct {
	// RequestStart enables an additional "request started" message.
	RequestStart bool
	// ExcludedEndpoints are glob patterns of URL paths (e.g. "/metrics", "/debug/*")
	// whose successful requests are not logged.
	ExcludedEndpoints []string
	// SlowRequestThreshold controls when the "time_slots" field group is added to the final log message.
	SlowRequestThreshold time.Duration
}

type loggingHandler struct {
	next      http.Handler
	logger    log.FieldLogger
	opts      LoggingOpts
	noLogPath endpointMatcher
}

// Logging is a middleware that logs info about HTTP request and response.
// Also, it puts logger (with external and internal request's ids in fields) into request's context.
func Logging(logger log.FieldLogger) func(next http.Handler) http.Handler {
	return LoggingWithOpts(logger, LoggingOpts{})
}

// LoggingWithOpts is a more configurable version of Logging middleware.
func LoggingWithOpts(logger log.FieldLogger, opts LoggingOpts) func(next http.Handler) http.Handler {
	if opts.SlowRequestThreshold == 0 {
		opts.SlowRequestThreshold = DefaultSlowRequestThreshold
	}
	noLogPath := newEndpointMatcher(opts.ExcludedEndpoints)
	return func(next http.Handler) http.Handler {
		return &loggingHandler{next: next, logger: logger, opts: opts, noLogPath: noLogPath}
	}
}

func (h *loggingHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	startTime := GetRequestStartTimeFromContext(ctx)
	if startTime.IsZero() {
		startTime = time.Now()
		ctx = NewContextWithRequestStartTime(ctx, startTime)
	}

	loggerForNext := h.logger.With(
		log.String("request_id", GetRequestIDFromContext(ctx)),
		log.String("int_request_id", GetInternalRequestIDFromContext(ctx)),
	)
	logger := loggerForNext.With(
		log.String("method", r.Method),
		log.String("uri", r.RequestURI),
		log.String("remote_addr", r.RemoteAddr),
		log.Int64("content_length", r.ContentLength),
		log.String("user_agent", r.UserAgent()),
	)

	noLog := h.noLogPath.match(r.URL.Path)
	if h.opts.RequestStart && !noLog {
		logger.Info("request started")
	}

	lp := &LoggingParams{}
	r = r.WithContext(NewContextWithLoggingParams(NewContextWithLogger(ctx, loggerForNext), lp))
	wrw := WrapResponseWriterIfNeeded(rw, r.ProtoMajor)
	h.next.ServeHTTP(wrw, r)

	status := wrw.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if noLog && status < http.StatusBadRequest {
		return
	}

	duration := time.Since(startTime)
	fields := append([]log.Field{
		log.Int64("duration_ms", duration.Milliseconds()),
		log.Int("status", status),
		log.Int("bytes_sent", wrw.BytesWritten()),
	}, lp.fields...)
	if duration >= h.opts.SlowRequestThreshold && len(lp.timeSlots) != 0 {
		fields = append(fields, logf.Object("time_slots", lp.timeSlots))
	}
	logger.Info(fmt.Sprintf("response completed in %.3fs", duration.Seconds()), fields...)
}

type loggableIntMap map[string]int64

func (lm loggableIntMap) EncodeLogfObject(e logf.FieldEncoder) error {
	for key, value := range lm {
		e.EncodeFieldInt64(key, value)
	}
	return nil
}

// LoggingParams stores parameters for the Logging middleware
// that may be modified dynamically by the underlying handlers.
type LoggingParams struct {
	fields    []log.Field
	timeSlots loggableIntMap
}

// ExtendFields extends list of fields that will be logged by the Logging middleware.
func (lp *LoggingParams) ExtendFields(fields ...log.Field) {
	lp.fields = append(lp.fields, fields...)
}

// AddTimeSlotDurationInMs adds duration in milliseconds to the named element of the "time_slots" group.
// The group is logged only for slow requests.
func (lp *LoggingParams) AddTimeSlotDurationInMs(name string, dur time.Duration) {
	if lp.timeSlots == nil {
		lp.timeSlots = make(loggableIntMap, 1)
	}
	lp.timeSlots[name] += dur.Milliseconds()
}
