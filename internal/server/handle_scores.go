package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/validation"
)

type LeaderboardResponse struct {
	Success     bool                     `json:"success"`
	Leaderboard []laotypo.ValidatedEntry `json:"leaderboard"`
}

type HistoryResponse struct {
	Success bool                     `json:"success"`
	History []laotypo.ValidatedEntry `json:"history"`
}

type AnswersResponse struct {
	Success bool             `json:"success"`
	EntryID string           `json:"entryId"`
	Answers []laotypo.Answer `json:"answers"`
}

type StatsResponse struct {
	Success bool              `json:"success"`
	Stats   laotypo.UserStats `json:"stats"`
}

func handleValidate(logger *slog.Logger, v *validation.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub validation.Submission
		if err := readJSON(r, &sub); err != nil {
			writeBadBody(w)
			return
		}
		out, err := v.Validate(r.Context(), identityFrom(r), sub)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleLeaderboard(logger *slog.Logger, v *validation.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryLimit(r)
		if !ok {
			writeError(w, laotypo.KindInvalidArgument, "limit must be a number")
			return
		}
		entries, err := v.Leaderboard(r.Context(), limit)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, LeaderboardResponse{Success: true, Leaderboard: entries})
	}
}

func handleHistory(logger *slog.Logger, v *validation.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryLimit(r)
		if !ok {
			writeError(w, laotypo.KindInvalidArgument, "limit must be a number")
			return
		}
		entries, err := v.History(r.Context(), identityFrom(r), limit)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, HistoryResponse{Success: true, History: entries})
	}
}

func handleStats(logger *slog.Logger, v *validation.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := v.Stats(r.Context(), identityFrom(r))
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, StatsResponse{Success: true, Stats: st})
	}
}

func handleEntryAnswers(logger *slog.Logger, v *validation.Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID := chi.URLParam(r, "id")
		answers, err := v.AnswerHistory(r.Context(), identityFrom(r), entryID)
		if err != nil {
			writeFailure(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, AnswersResponse{Success: true, EntryID: entryID, Answers: answers})
	}
}
