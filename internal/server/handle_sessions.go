package server

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/session"
	"github.com/laotypo/sessionsrv/internal/store"
)

type CreateSessionResponse struct {
	Success bool `json:"success"`
	session.Created
}

type JoinRequest struct {
	Code       string `json:"code"`
	PlayerName string `json:"playerName"`
}

type JoinResponse struct {
	Success bool `json:"success"`
	session.Joined
}

type SessionResponse struct {
	Success bool            `json:"success"`
	Session laotypo.Session `json:"session"`
}

type HostSessionsResponse struct {
	Success  bool                `json:"success"`
	Sessions []store.HostSession `json:"sessions"`
}

type StateResponse struct {
	Success bool         `json:"success"`
	State   laotypo.Tree `json:"state"`
}

type ResultsResponse struct {
	Success bool `json:"success"`
	session.SessionResults
}

type OKResponse struct {
	Success bool `json:"success"`
}

func handleCreateSession(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req session.CreateRequest
		if err := readJSON(r, &req); err != nil {
			writeBadBody(w)
			return
		}
		created, err := sessions.CreateSession(r.Context(), identityFrom(r), req)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, CreateSessionResponse{Success: true, Created: created})
	}
}

func handleJoin(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeBadBody(w)
			return
		}
		joined, err := sessions.JoinSession(r.Context(), identityFrom(r), req.Code, req.PlayerName)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, JoinResponse{Success: true, Joined: joined})
	}
}

func handleStart(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.StartGame(r.Context(), identityFrom(r), chi.URLParam(r, "id")); err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, OKResponse{Success: true})
	}
}

func handleGetSession(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, SessionResponse{Success: true, Session: sess})
	}
}

func handleHostSessions(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := sessions.ListHostSessions(r.Context(), identityFrom(r))
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, HostSessionsResponse{Success: true, Sessions: list})
	}
}

func handleState(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tree, err := sessions.Snapshot(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, StateResponse{Success: true, State: tree})
	}
}

func handleResults(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := sessions.Results(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ResultsResponse{Success: true, SessionResults: res})
	}
}

const qrSize = 320

// handleQR renders a PNG QR code pointing at the join page for the
// session's code.
func handleQR(logger *slog.Logger, sessions *session.Manager, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessions.GetSession(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		if !sess.Status.Live() {
			writeError(w, laotypo.KindNotFound, "session is no longer open")
			return
		}

		joinURL := baseURL + "/join?code=" + url.QueryEscape(sess.Code)
		png, err := qrcode.Encode(joinURL, qrcode.Medium, qrSize)
		if err != nil {
			writeFailure(w, r, logger, laotypo.Internal("qr generation failed", err))
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}
