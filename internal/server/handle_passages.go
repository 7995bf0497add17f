package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/session"
)

type PassageResponse struct {
	Success bool            `json:"success"`
	Passage laotypo.Passage `json:"passage"`
}

type PassagesResponse struct {
	Success  bool              `json:"success"`
	Passages []laotypo.Passage `json:"passages"`
}

type SweepResponse struct {
	Success bool `json:"success"`
	session.SweepReport
}

func handleListPassages(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := sessions.ListPassages(r.Context())
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, PassagesResponse{Success: true, Passages: ps})
	}
}

func handleGetPassage(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := sessions.Passage(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, PassageResponse{Success: true, Passage: p})
	}
}

func handlePutPassage(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p laotypo.Passage
		if err := readJSON(r, &p); err != nil {
			writeBadBody(w)
			return
		}
		p.ID = chi.URLParam(r, "id")
		saved, err := sessions.PutPassage(r.Context(), identityFrom(r), p)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, PassageResponse{Success: true, Passage: saved})
	}
}

// handleSweep runs the cleanup sweeper on demand.
func handleSweep(logger *slog.Logger, sweeper *session.Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r)
		if !id.Authenticated() {
			writeError(w, laotypo.KindUnauthenticated, "sign in required")
			return
		}
		if !id.Admin {
			writeError(w, laotypo.KindPermissionDenied, "admin access required")
			return
		}
		report, err := sweeper.Sweep(r.Context())
		if err != nil {
			writeFailure(w, r, logger, laotypo.Internal("sweep failed", err))
			return
		}
		writeJSON(w, http.StatusOK, SweepResponse{Success: true, SweepReport: report})
	}
}
