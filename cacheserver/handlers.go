/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cacheserver

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-lrucache/config"
	"github.com/acronis/go-lrucache/httpserver/middleware"
	"github.com/acronis/go-lrucache/log"
	"github.com/acronis/go-lrucache/lrucache"
	"github.com/acronis/go-lrucache/restapi"
)

const urlParamKey = "key"

// SettingsRequest is a body of PUT /settings. Absent fields are left unchanged.
type SettingsRequest struct {
	MaxElements *int                 `json:"maxElements,omitempty"`
	MaxAge      *config.TimeDuration `json:"maxAge,omitempty"`
}

type cacheHandler struct {
	cache        *lrucache.SyncLRUCache[string]
	maxValueSize uint64
	logger       log.FieldLogger
}

func (h *cacheHandler) reqLogger(r *http.Request) log.FieldLogger {
	if l := middleware.GetLoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.logger
}

func (h *cacheHandler) key(r *http.Request) (string, error) {
	key := chi.URLParam(r, urlParamKey)
	if r.URL.RawPath != "" {
		// chi routes by the escaped path when it differs from the decoded one (e.g. "%2F" in the key).
		unescaped, err := url.PathUnescape(key)
		if err != nil {
			return "", fmt.Errorf("%w: malformed key: %v", ErrInvalidArgument, err)
		}
		key = unescaped
	}
	if key == "" {
		return "", fmt.Errorf("%w: key must not be empty", ErrInvalidArgument)
	}
	return key, nil
}

func (h *cacheHandler) get(rw http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	key, err := h.key(r)
	if err != nil {
		respondInvalidArgument(rw, err, logger)
		return
	}
	val, ok := h.cache.Get(key)
	if lp := middleware.GetLoggingParamsFromContext(r.Context()); lp != nil {
		lp.ExtendFields(log.Bool("cache_hit", ok))
	}
	if !ok {
		respondError(rw, http.StatusNotFound, restapi.ErrCodeNotFound, fmt.Sprintf("Key %q is not found.", key), logger)
		return
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.WriteHeader(http.StatusOK)
	if _, err = io.WriteString(rw, val); err != nil {
		logger.Error("error while writing response body", log.Error(err))
	}
}

func (h *cacheHandler) set(rw http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)
	key, err := h.key(r)
	if err != nil {
		respondInvalidArgument(rw, err, logger)
		return
	}
	readStart := time.Now()
	body, err := restapi.ReadRequestBody(rw, r, h.maxValueSize)
	if lp := middleware.GetLoggingParamsFromContext(r.Context()); lp != nil {
		lp.AddTimeSlotDurationInMs("read_body", time.Since(readStart))
	}
	if err != nil {
		respondMalformedRequest(rw, err, logger)
		return
	}
	h.cache.Set(key, string(body))
	rw.WriteHeader(http.StatusNoContent)
}

func (h *cacheHandler) remove(rw http.ResponseWriter, r *http.Request) {
	key, err := h.key(r)
	if err != nil {
		respondInvalidArgument(rw, err, h.reqLogger(r))
		return
	}
	h.cache.Remove(key)
	rw.WriteHeader(http.StatusNoContent)
}

func (h *cacheHandler) clear(rw http.ResponseWriter, r *http.Request) {
	h.cache.Clear()
	rw.WriteHeader(http.StatusNoContent)
}

func (h *cacheHandler) stats(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, h.cache.Stats(), h.reqLogger(r))
}

func (h *cacheHandler) keys(rw http.ResponseWriter, r *http.Request) {
	restapi.RespondJSON(rw, h.cache.Keys(), h.reqLogger(r))
}

func (h *cacheHandler) settings(rw http.ResponseWriter, r *http.Request) {
	logger := h.reqLogger(r)

	var req SettingsRequest
	if err := restapi.DecodeRequestJSONStrict(rw, r, &req, h.maxValueSize, true); err != nil {
		respondMalformedRequest(rw, err, logger)
		return
	}
	if req.MaxElements != nil && *req.MaxElements < 0 {
		respondInvalidArgument(rw, fmt.Errorf("%w: maxElements should be >= 0", ErrInvalidArgument), logger)
		return
	}
	if req.MaxAge != nil && *req.MaxAge < 0 {
		respondInvalidArgument(rw, fmt.Errorf("%w: maxAge should be >= 0", ErrInvalidArgument), logger)
		return
	}

	if req.MaxElements != nil {
		evicted := h.cache.SetMaxElements(*req.MaxElements)
		logger.Info("cache max elements changed",
			log.Int("max_elements", *req.MaxElements), log.Int("evicted", evicted))
	}
	if req.MaxAge != nil {
		h.cache.SetMaxAge(time.Duration(*req.MaxAge))
		logger.Info("cache max age changed", log.Duration("max_age", time.Duration(*req.MaxAge)))
	}
	restapi.RespondJSON(rw, h.cache.Stats(), logger)
}
