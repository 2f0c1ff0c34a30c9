/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package cacheclient provides a client for the cache HTTP server (see cacheserver package).
package cacheclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/acronis/go-lrucache/cacheserver"
	"github.com/acronis/go-lrucache/config"
	"github.com/acronis/go-lrucache/httpclient"
	"github.com/acronis/go-lrucache/httpserver/middleware"
	"github.com/acronis/go-lrucache/log"
	"github.com/acronis/go-lrucache/lrucache"
	"github.com/acronis/go-lrucache/restapi"
	"github.com/acronis/go-lrucache/retry"
)

// Default retry parameters.
const (
	DefaultMaxRetryAttempts = 3
	DefaultInitialInterval  = 100 * time.Millisecond
)

// ErrUnexpectedResponse is returned when the server responds with an unexpected status code.
var ErrUnexpectedResponse = errors.New("unexpected response")

// ErrEmptyKey is returned without sending a request when the key is empty.
var ErrEmptyKey = errors.New("key must not be empty")

// ResponseError contains the error details returned by the server.
type ResponseError struct {
	StatusCode int
	Err        *restapi.Error
}

func (e *ResponseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: status code %d", ErrUnexpectedResponse, e.StatusCode)
	}
	return fmt.Sprintf("%s: status code %d: %s: %s", ErrUnexpectedResponse, e.StatusCode, e.Err.Code, e.Err.Message)
}

// Unwrap returns ErrUnexpectedResponse, so errors.Is can be used for checking.
func (e *ResponseError) Unwrap() error {
	return ErrUnexpectedResponse
}

// Opts represents options for the Client.
type Opts struct {
	// Transport sends single HTTP requests. http.DefaultTransport is used if nil.
	Transport http.RoundTripper
	// Timeout limits the time of a whole call including retries. No limit if 0.
	Timeout time.Duration
	// RetryPolicy is used for retrying requests failed with network errors, 429 or 5xx responses.
	// Exponential backoff with DefaultInitialInterval and DefaultMaxRetryAttempts is used if nil.
	RetryPolicy retry.Policy
	Logger      log.FieldLogger
}

// Client sends requests to the cache HTTP server.
// Every call carries X-Request-ID taken from the context (see middleware.NewContextWithRequestID)
// or generated, the same id is sent on all retry attempts.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     log.FieldLogger
}

// New creates a new Client for the server available by baseURL (e.g. "http://127.0.0.1:8080").
func New(baseURL string, opts Opts) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.RetryPolicy == nil {
		opts.RetryPolicy = retry.NewExponentialBackoffPolicy(DefaultInitialInterval, DefaultMaxRetryAttempts)
	}

	logger := opts.Logger
	retryableRT, err := httpclient.NewRetryableRoundTripperWithOpts(opts.Transport, httpclient.RetryableRoundTripperOpts{
		LoggerProvider: func(ctx context.Context) log.FieldLogger {
			return logger.With(log.String("request_id", middleware.GetRequestIDFromContext(ctx)))
		},
		MaxRetryAttempts: httpclient.UnlimitedRetryAttempts, // Stopped by the policy.
		BackoffPolicy:    opts.RetryPolicy,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: httpclient.NewRequestIDRoundTripper(retryableRT),
			Timeout:   opts.Timeout,
		},
		logger: logger,
	}, nil
}

// Get returns the value stored by key. Found is false if the key is absent (or expired) on the server.
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	body, statusCode, err := c.do(ctx, http.MethodGet, keyPath(key), nil, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return "", false, err
	}
	if statusCode == http.StatusNotFound {
		return "", false, nil
	}
	return string(body), true, nil
}

// Set stores the value by key.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, _, err := c.do(ctx, http.MethodPut, keyPath(key), []byte(value), http.StatusNoContent)
	return err
}

// Remove removes the value stored by key. It's not an error if the key is absent.
func (c *Client) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, _, err := c.do(ctx, http.MethodDelete, keyPath(key), nil, http.StatusNoContent)
	return err
}

// Clear removes all values.
func (c *Client) Clear(ctx context.Context) error {
	_, _, err := c.do(ctx, http.MethodDelete, "/cache", nil, http.StatusNoContent)
	return err
}

// Keys returns all keys from the most to the least recently used one.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := c.doJSON(ctx, http.MethodGet, "/keys", nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// Stats returns the cache statistics.
func (c *Client) Stats(ctx context.Context) (lrucache.Stats, error) {
	var stats lrucache.Stats
	err := c.doJSON(ctx, http.MethodGet, "/stats", nil, &stats)
	return stats, err
}

// SetMaxElements changes the cache capacity (0 means unlimited) and returns the stats after the change.
func (c *Client) SetMaxElements(ctx context.Context, maxElements int) (lrucache.Stats, error) {
	return c.updateSettings(ctx, cacheserver.SettingsRequest{MaxElements: &maxElements})
}

// SetMaxAge changes the entries max age (0 disables expiration) and returns the stats after the change.
func (c *Client) SetMaxAge(ctx context.Context, maxAge time.Duration) (lrucache.Stats, error) {
	td := config.TimeDuration(maxAge)
	return c.updateSettings(ctx, cacheserver.SettingsRequest{MaxAge: &td})
}

func (c *Client) updateSettings(ctx context.Context, req cacheserver.SettingsRequest) (lrucache.Stats, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return lrucache.Stats{}, fmt.Errorf("marshal settings: %w", err)
	}
	var stats lrucache.Stats
	err = c.doJSON(ctx, http.MethodPut, "/settings", reqBody, &stats)
	return stats, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody []byte, dst interface{}) error {
	body, _, err := c.do(ctx, method, path, reqBody, http.StatusOK)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("unmarshal response body: %w", err)
	}
	return nil
}

// do sends the request and returns the response body if its status code is one of wantStatusCodes.
// Retries are done by the transport.
func (c *Client) do(
	ctx context.Context, method, path string, reqBody []byte, wantStatusCodes ...int,
) (respBody []byte, statusCode int, err error) {
	if middleware.GetRequestIDFromContext(ctx) == "" {
		ctx = middleware.NewContextWithRequestID(ctx, middleware.NewRequestID())
	}

	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if method == http.MethodPut && path == "/settings" {
		req.Header.Set("Content-Type", restapi.ContentTypeAppJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("error while closing response body", log.Error(closeErr))
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	for _, code := range wantStatusCodes {
		if resp.StatusCode == code {
			return body, resp.StatusCode, nil
		}
	}
	respErr := &ResponseError{StatusCode: resp.StatusCode}
	var errData restapi.ErrorResponseData
	if json.Unmarshal(body, &errData) == nil {
		respErr.Err = errData.Err
	}
	return nil, resp.StatusCode, respErr
}

func keyPath(key string) string {
	return "/cache/" + url.PathEscape(key)
}
