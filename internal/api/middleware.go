package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HeaderUserID carries the authenticated user id, set by the fronting
// session layer.
const HeaderUserID = "X-User-ID"

// OwnerFunc resolves the current user for a request.
type OwnerFunc func(r *http.Request) (string, bool)

// HeaderOwner reads the owner from the X-User-ID header.
func HeaderOwner(r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(HeaderUserID))
	return owner, owner != ""
}

type ownerKey struct{}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

func (h *Handler) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, ok := h.owner(r)
		if !ok {
			h.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: errorBody{Code: "UNAUTHORIZED", Reason: "missing_user"}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
