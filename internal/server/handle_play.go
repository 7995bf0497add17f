package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/session"
)

type AnswerRequest struct {
	WordIndex *int   `json:"wordIndex"`
	Answer    string `json:"answer"`
}

type AnswerResponse struct {
	Success bool `json:"success"`
	session.AnswerOutcome
}

type MessageRequest struct {
	Text string `json:"text"`
}

type MessageResponse struct {
	Success bool            `json:"success"`
	Message laotypo.Message `json:"message"`
}

type MessagesResponse struct {
	Success  bool              `json:"success"`
	Messages []laotypo.Message `json:"messages"`
}

func handleAnswer(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnswerRequest
		if err := readJSON(r, &req); err != nil {
			writeBadBody(w)
			return
		}
		if req.WordIndex == nil {
			writeError(w, laotypo.KindInvalidArgument, "wordIndex is required")
			return
		}

		out, err := sessions.SubmitAnswer(r.Context(), playerFrom(r), *req.WordIndex, req.Answer)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, AnswerResponse{Success: true, AnswerOutcome: out})
	}
}

func handlePostMessage(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MessageRequest
		if err := readJSON(r, &req); err != nil {
			writeBadBody(w)
			return
		}
		msg, err := sessions.PostMessage(r.Context(), playerFrom(r), req.Text)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, MessageResponse{Success: true, Message: msg})
	}
}

func handleMessages(logger *slog.Logger, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := sessions.Messages(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, MessagesResponse{Success: true, Messages: msgs})
	}
}
