package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

// RecordValidatedGame writes a validated leaderboard entry and merges it
// into the player's cumulative stats in one transaction. The stats merge is
// a single UPSERT doing increments and maxima in SQL, so games by the same
// player finishing concurrently or out of order never overwrite each other.
func (s *Store) RecordValidatedGame(ctx context.Context, e laotypo.ValidatedEntry) (laotypo.ValidatedEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Validated = true

	history, err := json.Marshal(e.AnswerHistory)
	if err != nil {
		return laotypo.ValidatedEntry{}, err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO validated_entries (id, user_id, player_name, final_score, accuracy, total_words,
				correct_answers, wrong_answers, max_streak, levels_completed, difficulty, game_duration_ms,
				validated, answer_history, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, jsonb(?), ?)`,
			e.ID, e.UserID, e.PlayerName, e.FinalScore, e.Accuracy, e.TotalWords,
			e.CorrectAnswers, e.WrongAnswers, e.MaxStreak, e.LevelsCompleted, e.Difficulty,
			e.GameDurationMs, string(history), millis(e.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting validated entry: %w", err)
		}

		now := millis(time.Now())
		_, err = tx.ExecContext(ctx, `
			INSERT INTO user_stats (user_id, total_games, total_score, best_score, best_accuracy, best_streak,
				total_words, correct_words, average_accuracy, last_game_at, updated_at)
			VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				total_games   = total_games + 1,
				total_score   = total_score + excluded.total_score,
				best_score    = MAX(best_score, excluded.best_score),
				best_accuracy = MAX(best_accuracy, excluded.best_accuracy),
				best_streak   = MAX(best_streak, excluded.best_streak),
				total_words   = total_words + excluded.total_words,
				correct_words = correct_words + excluded.correct_words,
				average_accuracy = CASE
					WHEN total_words + excluded.total_words > 0
					THEN (correct_words + excluded.correct_words) * 100.0 / (total_words + excluded.total_words)
					ELSE 0 END,
				last_game_at  = MAX(COALESCE(last_game_at, 0), excluded.last_game_at),
				updated_at    = excluded.updated_at`,
			e.UserID, e.FinalScore, e.FinalScore, e.Accuracy, e.MaxStreak,
			e.TotalWords, e.CorrectAnswers, e.Accuracy, millis(e.CreatedAt), now,
		)
		if err != nil {
			return fmt.Errorf("merging user stats: %w", err)
		}
		return nil
	})
	if err != nil {
		return laotypo.ValidatedEntry{}, err
	}
	return e, nil
}

const validatedColumns = `id, user_id, player_name, final_score, accuracy, total_words, correct_answers,
	wrong_answers, max_streak, levels_completed, difficulty, game_duration_ms, validated, created_at`

func scanValidated(row scanner) (laotypo.ValidatedEntry, error) {
	var (
		e         laotypo.ValidatedEntry
		validated int
		createdAt int64
	)
	err := row.Scan(&e.ID, &e.UserID, &e.PlayerName, &e.FinalScore, &e.Accuracy, &e.TotalWords,
		&e.CorrectAnswers, &e.WrongAnswers, &e.MaxStreak, &e.LevelsCompleted, &e.Difficulty,
		&e.GameDurationMs, &validated, &createdAt)
	if err != nil {
		return laotypo.ValidatedEntry{}, err
	}
	e.Validated = validated == 1
	e.CreatedAt = fromMillis(createdAt)
	return e, nil
}

func (s *Store) queryValidated(ctx context.Context, query string, args ...any) ([]laotypo.ValidatedEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []laotypo.ValidatedEntry{}
	for rows.Next() {
		e, err := scanValidated(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TopValidated returns the best validated scores. Limit is clamped to 1..100.
func (s *Store) TopValidated(ctx context.Context, limit int) ([]laotypo.ValidatedEntry, error) {
	entries, err := s.queryValidated(ctx,
		`SELECT `+validatedColumns+` FROM validated_entries
		 WHERE validated = 1 ORDER BY final_score DESC, created_at LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing leaderboard: %w", err)
	}
	return entries, nil
}

// UserHistory returns a user's validated games, newest first.
func (s *Store) UserHistory(ctx context.Context, userID string, limit int) ([]laotypo.ValidatedEntry, error) {
	entries, err := s.queryValidated(ctx,
		`SELECT `+validatedColumns+` FROM validated_entries
		 WHERE user_id = ? AND validated = 1 ORDER BY created_at DESC LIMIT ?`, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("listing history for %s: %w", userID, err)
	}
	return entries, nil
}

// AnswerHistory returns the audited answer history of one validated entry.
func (s *Store) AnswerHistory(ctx context.Context, entryID string) ([]laotypo.Answer, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT json(answer_history) FROM validated_entries WHERE id = ?`, entryID,
	).Scan(&data)
	if err != nil {
		return nil, notFound(err, "entry "+entryID)
	}
	var history []laotypo.Answer
	if err := json.Unmarshal([]byte(data), &history); err != nil {
		return nil, fmt.Errorf("decoding answer history: %w", err)
	}
	return history, nil
}

func (s *Store) UserStats(ctx context.Context, userID string) (laotypo.UserStats, error) {
	var (
		st       laotypo.UserStats
		lastGame sql.NullInt64
		updated  int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, total_games, total_score, best_score, best_accuracy, best_streak,
		       total_words, correct_words, average_accuracy, last_game_at, updated_at
		FROM user_stats WHERE user_id = ?`, userID,
	).Scan(&st.UserID, &st.TotalGames, &st.TotalScore, &st.BestScore, &st.BestAccuracy,
		&st.BestStreak, &st.TotalWords, &st.CorrectWords, &st.AverageAccuracy, &lastGame, &updated)
	if err != nil {
		return laotypo.UserStats{}, notFound(err, "stats "+userID)
	}
	st.LastGameAt = timePtr(lastGame)
	st.UpdatedAt = fromMillis(updated)
	return st, nil
}
