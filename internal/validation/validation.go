// Package validation re-scores finished games on the server before they
// reach the global leaderboard.
package validation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/scoring"
	"github.com/laotypo/sessionsrv/internal/store"
)

const (
	DefaultTolerance = 5
	anonymousName    = "Anonymous"
	defaultDifficulty = "medium"
)

// GameData is the client's own summary of a finished game. Only the
// descriptive fields are kept; the score is recomputed.
type GameData struct {
	PlayerName   string  `json:"playerName"`
	FinalScore   int     `json:"finalScore"`
	Accuracy     float64 `json:"accuracy,omitempty"`
	Difficulty   string  `json:"difficulty,omitempty"`
	GameDuration int64   `json:"gameDuration,omitempty"`
}

type Submission struct {
	GameData      *GameData        `json:"gameData"`
	AnswerHistory []laotypo.Answer `json:"answerHistory"`
	WordData      []laotypo.Word   `json:"wordData"`
}

type Outcome struct {
	Success        bool   `json:"success"`
	ValidatedScore int    `json:"validatedScore"`
	Message        string `json:"message"`
}

type Validator struct {
	store     *store.Store
	logger    *slog.Logger
	tolerance int
}

func New(st *store.Store, logger *slog.Logger, tolerance int) *Validator {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	return &Validator{store: st, logger: logger, tolerance: tolerance}
}

// Validate recomputes the score of a finished game and records the server
// result. A client score that disagrees by more than the tolerance is
// logged; the server score is stored either way.
func (v *Validator) Validate(ctx context.Context, id laotypo.Identity, sub Submission) (Outcome, error) {
	if !id.Authenticated() {
		return Outcome{}, laotypo.Errorf(laotypo.KindUnauthenticated, "user must be authenticated")
	}
	if sub.GameData == nil || len(sub.AnswerHistory) == 0 || len(sub.WordData) == 0 {
		return Outcome{}, laotypo.Errorf(laotypo.KindInvalidArgument, "missing required game data")
	}

	res := scoring.Score(sub.AnswerHistory, sub.WordData)
	if diff := abs(res.FinalScore - sub.GameData.FinalScore); diff > v.tolerance {
		v.logger.Warn("score mismatch",
			"user_id", id.UserID,
			"client_score", sub.GameData.FinalScore,
			"server_score", res.FinalScore,
		)
	}

	entry := laotypo.ValidatedEntry{
		UserID:          id.UserID,
		PlayerName:      strings.TrimSpace(sub.GameData.PlayerName),
		FinalScore:      res.FinalScore,
		Accuracy:        res.Accuracy,
		TotalWords:      res.TotalWords,
		CorrectAnswers:  res.CorrectAnswers,
		WrongAnswers:    res.WrongAnswers,
		MaxStreak:       res.MaxStreak,
		LevelsCompleted: res.LevelsCompleted,
		Difficulty:      sub.GameData.Difficulty,
		GameDurationMs:  max(sub.GameData.GameDuration, 0),
		AnswerHistory:   sub.AnswerHistory,
	}
	if entry.PlayerName == "" {
		entry.PlayerName = anonymousName
	}
	if entry.Difficulty == "" {
		entry.Difficulty = defaultDifficulty
	}

	saved, err := v.store.RecordValidatedGame(ctx, entry)
	if err != nil {
		return Outcome{}, laotypo.Internal("failed to validate game score", err)
	}
	v.logger.Info("game validated", "user_id", id.UserID, "entry_id", saved.ID, "score", saved.FinalScore)

	return Outcome{
		Success:        true,
		ValidatedScore: res.FinalScore,
		Message:        "Game score validated and saved",
	}, nil
}

// Leaderboard returns the best validated games. limit defaults to 10 and
// is capped at 100.
func (v *Validator) Leaderboard(ctx context.Context, limit int) ([]laotypo.ValidatedEntry, error) {
	entries, err := v.store.TopValidated(ctx, limit)
	if err != nil {
		return nil, laotypo.Internal("failed to fetch leaderboard", err)
	}
	return entries, nil
}

// History returns the caller's validated games, newest first.
func (v *Validator) History(ctx context.Context, id laotypo.Identity, limit int) ([]laotypo.ValidatedEntry, error) {
	if !id.Authenticated() {
		return nil, laotypo.Errorf(laotypo.KindUnauthenticated, "user must be authenticated")
	}
	entries, err := v.store.UserHistory(ctx, id.UserID, limit)
	if err != nil {
		return nil, laotypo.Internal("failed to fetch game history", err)
	}
	return entries, nil
}

// Stats returns the caller's cumulative stats, zeroed if they have none.
func (v *Validator) Stats(ctx context.Context, id laotypo.Identity) (laotypo.UserStats, error) {
	if !id.Authenticated() {
		return laotypo.UserStats{}, laotypo.Errorf(laotypo.KindUnauthenticated, "user must be authenticated")
	}
	st, err := v.store.UserStats(ctx, id.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return laotypo.UserStats{UserID: id.UserID}, nil
	}
	if err != nil {
		return laotypo.UserStats{}, laotypo.Internal("failed to fetch stats", err)
	}
	return st, nil
}

// AnswerHistory returns the answers a validated entry was scored from.
// Admins only.
func (v *Validator) AnswerHistory(ctx context.Context, id laotypo.Identity, entryID string) ([]laotypo.Answer, error) {
	if !id.Authenticated() {
		return nil, laotypo.Errorf(laotypo.KindUnauthenticated, "user must be authenticated")
	}
	if !id.Admin {
		return nil, laotypo.Errorf(laotypo.KindPermissionDenied, "admin access required")
	}
	history, err := v.store.AnswerHistory(ctx, entryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, laotypo.Errorf(laotypo.KindNotFound, "entry %s not found", entryID)
	}
	if err != nil {
		return nil, laotypo.Internal("failed to fetch answer history", err)
	}
	return history, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
