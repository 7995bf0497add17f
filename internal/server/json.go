package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Success bool              `json:"success"`
	Kind    laotypo.ErrorKind `json:"kind"`
	Error   string            `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, kind laotypo.ErrorKind, msg string) {
	writeJSON(w, statusOf(kind), ErrorResponse{Kind: kind, Error: msg})
}

func writeBadBody(w http.ResponseWriter) {
	writeError(w, laotypo.KindInvalidArgument, "invalid request body")
}

// writeFailure maps a service error to its HTTP status. Internal causes are
// logged, never sent.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := laotypo.KindOf(err)
	if kind == laotypo.KindInternal {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, kind, laotypo.PublicMessage(err))
}

func statusOf(kind laotypo.ErrorKind) int {
	switch kind {
	case laotypo.KindUnauthenticated:
		return http.StatusUnauthorized
	case laotypo.KindInvalidArgument:
		return http.StatusBadRequest
	case laotypo.KindNotFound:
		return http.StatusNotFound
	case laotypo.KindResourceExhausted:
		return http.StatusTooManyRequests
	case laotypo.KindPermissionDenied:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// queryLimit parses ?limit=, leaving range clamping to the store.
func queryLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
