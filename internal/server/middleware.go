package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	svcerrors "github.com/adverant/nexus/ocr-service/internal/errors"
)

const requestIDHeader = "X-Request-Id"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDFrom returns the id assigned by the request id middleware.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestID propagates an incoming X-Request-Id or mints one.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// recoverer turns handler panics into a generic 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				requestID := RequestIDFrom(r.Context())
				s.logger.Error("Panic in handler", "request_id", requestID, "path", r.URL.Path, "panic", rec)
				writeError(w, svcerrors.NewInternalError(requestID, fmt.Errorf("%v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// accessLog logs each request and records it against the matched route.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		s.metrics.ObserveRequest(endpoint, statusClass(m.Code), m.Duration)

		fields := []interface{}{
			"request_id", RequestIDFrom(r.Context()),
			"method", r.Method,
			"path", endpoint,
			"status", m.Code,
			"duration", m.Duration,
			"bytes", m.Written,
		}
		if m.Code >= http.StatusInternalServerError {
			s.logger.Warn("Request completed", fields...)
			return
		}
		s.logger.Debug("Request completed", fields...)
	})
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
