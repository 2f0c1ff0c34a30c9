/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient contains http.RoundTripper implementations used by the cache client:
// retries with backoff and X-Request-ID propagation.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-lrucache/log"
	"github.com/acronis/go-lrucache/retry"
)

// Default parameter values for RetryableRoundTripper.
const (
	DefaultMaxRetryAttempts                  = 3
	DefaultExponentialBackoffInitialInterval = 100 * time.Millisecond
	DefaultExponentialBackoffMultiplier      = 2
)

// UnlimitedRetryAttempts should be used as RetryableRoundTripperOpts.MaxRetryAttempts value
// when retries are stopped by RetryableRoundTripperOpts.BackoffPolicy only.
const UnlimitedRetryAttempts = -1

// RetryAttemptNumberHeader is an HTTP header name that contains the serial number of the retry attempt.
const RetryAttemptNumberHeader = "X-Retry-Attempt"

// CheckRetryFunc is called right after RoundTrip() and determines if the next retry attempt is needed.
type CheckRetryFunc func(ctx context.Context, resp *http.Response, roundTripErr error, doneRetryAttempts int) (bool, error)

// RetryableRoundTripper wraps http.RoundTripper and retries failed requests.
// Request body is buffered (or rewound) between attempts.
type RetryableRoundTripper struct {
	Delegate http.RoundTripper

	Logger log.FieldLogger

	// LoggerProvider returns a context-specific logger (e.g. with request id). It takes precedence over Logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// MaxRetryAttempts limits the number of retries, the request is sent at most MaxRetryAttempts + 1 times.
	MaxRetryAttempts int

	CheckRetry CheckRetryFunc

	// IgnoreRetryAfter disables using the Retry-After response header as a delay before the next attempt.
	IgnoreRetryAfter bool

	BackoffPolicy retry.Policy
}

// RetryableRoundTripperOpts represents an options for RetryableRoundTripper.
type RetryableRoundTripperOpts struct {
	Logger         log.FieldLogger
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// MaxRetryAttempts is DefaultMaxRetryAttempts if 0.
	// UnlimitedRetryAttempts leaves stopping to BackoffPolicy.
	MaxRetryAttempts int

	// CheckRetryFunc is DefaultCheckRetry if nil.
	CheckRetryFunc CheckRetryFunc

	IgnoreRetryAfter bool

	// BackoffPolicy is DefaultBackoffPolicy if nil.
	BackoffPolicy retry.Policy
}

// NewRetryableRoundTripper returns a new instance of RetryableRoundTripper.
func NewRetryableRoundTripper(delegate http.RoundTripper) (*RetryableRoundTripper, error) {
	return NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{})
}

// NewRetryableRoundTripperWithOpts creates a new instance of RetryableRoundTripper with specified options.
func NewRetryableRoundTripperWithOpts(
	delegate http.RoundTripper, opts RetryableRoundTripperOpts,
) (*RetryableRoundTripper, error) {
	if opts.MaxRetryAttempts < 0 && opts.MaxRetryAttempts != UnlimitedRetryAttempts {
		return nil, fmt.Errorf("incorrect max retry attempts")
	}
	if opts.MaxRetryAttempts == 0 {
		opts.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.CheckRetryFunc == nil {
		opts.CheckRetryFunc = DefaultCheckRetry
	}
	if opts.BackoffPolicy == nil {
		opts.BackoffPolicy = DefaultBackoffPolicy
	}
	if delegate == nil {
		delegate = http.DefaultTransport
	}
	return &RetryableRoundTripper{
		Delegate:         delegate,
		Logger:           opts.Logger,
		LoggerProvider:   opts.LoggerProvider,
		MaxRetryAttempts: opts.MaxRetryAttempts,
		CheckRetry:       opts.CheckRetryFunc,
		IgnoreRetryAfter: opts.IgnoreRetryAfter,
		BackoffPolicy:    opts.BackoffPolicy,
	}, nil
}

// RoundTrip performs request with retry logic.
// nolint: gocyclo
func (rt *RetryableRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rewindReqBody := func(r *http.Request) error { return nil }
	if req.Body != nil && req.Body != http.NoBody {
		originalReqBody := req.Body
		defer func() {
			_ = originalReqBody.Close() // Per RoundTripper contract.
		}()

		var err error
		if rewindReqBody, err = makeRequestBodyRewindable(req); err != nil {
			return nil, &RetryableRoundTripperError{Inner: err}
		}
	}

	getNextWaitTime := rt.makeNextWaitTimeProvider()
	reqCtx := req.Context()
	reqCloned := false

	var resp *http.Response
	var roundTripErr error
	for curRetryAttemptNum := 0; ; curRetryAttemptNum++ {
		if curRetryAttemptNum > 0 {
			if !reqCloned {
				req, reqCloned = req.Clone(reqCtx), true // Per RoundTripper contract.
			}
			if rewindErr := rewindReqBody(req); rewindErr != nil {
				rt.logger(reqCtx).Error(fmt.Sprintf(
					"failed to rewind request body between retry attempts, %d request(s) done", curRetryAttemptNum),
					log.Error(rewindErr))
				return resp, roundTripErr
			}
			req.Header.Set(RetryAttemptNumberHeader, strconv.Itoa(curRetryAttemptNum))
		}

		resp, roundTripErr = rt.Delegate.RoundTrip(req)

		needRetry, checkRetryErr := rt.CheckRetry(reqCtx, resp, roundTripErr, curRetryAttemptNum)
		if checkRetryErr != nil {
			rt.logger(reqCtx).Error(fmt.Sprintf(
				"failed to check if retry is needed, %d request(s) done", curRetryAttemptNum+1),
				log.Error(checkRetryErr))
			return resp, roundTripErr
		}
		if !needRetry {
			return resp, roundTripErr
		}

		if rt.MaxRetryAttempts > 0 && curRetryAttemptNum >= rt.MaxRetryAttempts {
			rt.logger(reqCtx).Warnf("max retry attempts exceeded (%d), %d request(s) done",
				rt.MaxRetryAttempts, curRetryAttemptNum+1)
			return resp, roundTripErr
		}
		waitTime, stop := getNextWaitTime(resp)
		if stop {
			return resp, roundTripErr
		}

		fields := []log.Field{log.Int("retry_attempt", curRetryAttemptNum+1), log.Duration("delay", waitTime)}
		if roundTripErr != nil {
			fields = append(fields, log.Error(roundTripErr))
		} else {
			fields = append(fields, log.Int("status", resp.StatusCode))
		}
		rt.logger(reqCtx).Warn("request failed, will be retried", fields...)

		// Response body must be drained and closed, otherwise the connection can't be reused.
		if resp != nil {
			rt.drainResponseBody(reqCtx, resp)
		}

		timer := time.NewTimer(waitTime)
		select {
		case <-reqCtx.Done():
			timer.Stop()
			rt.logger(reqCtx).Warnf("context canceled (%v) while waiting for the next retry attempt, %d request(s) done",
				reqCtx.Err(), curRetryAttemptNum+1)
			return nil, reqCtx.Err()
		case <-timer.C:
		}
	}
}

type waitTimeProvider func(resp *http.Response) (waitTime time.Duration, stop bool)

func (rt *RetryableRoundTripper) makeNextWaitTimeProvider() waitTimeProvider {
	bf := rt.BackoffPolicy.NewBackOff()
	return func(resp *http.Response) (waitTime time.Duration, stop bool) {
		if resp != nil && !rt.IgnoreRetryAfter {
			if retryAfter, ok := parseRetryAfterFromResponse(resp); ok {
				return retryAfter, false
			}
		}
		waitTime = bf.NextBackOff()
		return waitTime, waitTime == backoff.Stop
	}
}

func (rt *RetryableRoundTripper) drainResponseBody(ctx context.Context, resp *http.Response) {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			rt.logger(ctx).Error("failed to close previous response body between retry attempts", log.Error(closeErr))
		}
	}()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		rt.logger(ctx).Error("failed to discard previous response body between retry attempts", log.Error(err))
	}
}

func (rt *RetryableRoundTripper) logger(ctx context.Context) log.FieldLogger {
	if rt.LoggerProvider != nil {
		if l := rt.LoggerProvider(ctx); l != nil {
			return l
		}
	}
	return rt.Logger
}

// RetryableRoundTripperError is returned by RoundTrip when the request cannot be prepared for retrying.
type RetryableRoundTripperError struct {
	Inner error
}

func (e *RetryableRoundTripperError) Error() string {
	return fmt.Sprintf("retryable round trip: %s", e.Inner.Error())
}

// Unwrap returns the next error in the error chain.
func (e *RetryableRoundTripperError) Unwrap() error {
	return e.Inner
}

// DefaultCheckRetry retries transport errors (except the canceled or expired request context),
// 429 and 5xx responses.
func DefaultCheckRetry(
	ctx context.Context, resp *http.Response, roundTripErr error, doneRetryAttempts int,
) (needRetry bool, err error) {
	if ctx.Err() != nil {
		return false, nil
	}
	if roundTripErr != nil {
		return !errors.Is(roundTripErr, context.Canceled) && !errors.Is(roundTripErr, context.DeadlineExceeded), nil
	}
	if resp == nil {
		return false, fmt.Errorf("both response and round trip error are nil")
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError, nil
}

// DefaultBackoffPolicy is a default backoff policy.
var DefaultBackoffPolicy = retry.PolicyFunc(func() backoff.BackOff {
	bf := backoff.NewExponentialBackOff()
	bf.InitialInterval = DefaultExponentialBackoffInitialInterval
	bf.Multiplier = DefaultExponentialBackoffMultiplier
	bf.MaxElapsedTime = 0
	bf.Reset()
	return bf
})

// makeRequestBodyRewindable returns a function that resets the body of a cloned request before a retry.
// GetBody is preferred, then seeking, and buffering the whole body is the last resort.
func makeRequestBodyRewindable(req *http.Request) (func(*http.Request) error, error) {
	if req.GetBody != nil {
		return func(r *http.Request) error {
			newBody, err := r.GetBody()
			if err != nil {
				return fmt.Errorf("get body for retry: %w", err)
			}
			r.Body = newBody
			return nil
		}, nil
	}

	if reqBodySeeker, ok := req.Body.(io.ReadSeeker); ok {
		reqBodySeekOffset, err := reqBodySeeker.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, fmt.Errorf("seek request body before doing first request: %w", err)
		}
		req.Body = io.NopCloser(reqBodySeeker)
		return func(r *http.Request) error {
			if _, seekErr := reqBodySeeker.Seek(reqBodySeekOffset, io.SeekStart); seekErr != nil {
				return fmt.Errorf("seek request body (offset=%d) for retry: %w", reqBodySeekOffset, seekErr)
			}
			r.Body = io.NopCloser(reqBodySeeker)
			return nil
		}, nil
	}

	bufferedReqBody, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body before doing first request: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(bufferedReqBody))
	return func(r *http.Request) error {
		r.Body = io.NopCloser(bytes.NewReader(bufferedReqBody))
		return nil
	}, nil
}

func parseRetryAfterFromResponse(resp *http.Response) (retryAfter time.Duration, ok bool) {
	retryAfterVal := resp.Header.Get("Retry-After")
	if retryAfterVal == "" {
		return 0, false
	}
	parsedInt, parseIntErr := strconv.Atoi(retryAfterVal)
	if parseIntErr != nil {
		parsedTime, parsedTimeErr := time.Parse(time.RFC1123, retryAfterVal)
		if parsedTimeErr != nil {
			return 0, false
		}
		return time.Until(parsedTime), true
	}
	if parsedInt < 0 {
		return 0, false
	}
	return time.Duration(parsedInt) * time.Second, true
}
