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

// Finalization is everything the finalizer persists for one completed
// session. It is written in a single transaction.
type Finalization struct {
	SessionID   string
	CompletedAt time.Time
	Results     []laotypo.Result
	Snapshot    []laotypo.RankedEntry
	// Analytics fields other than the duration, which is derived from the
	// stored start and completion times.
	PlayerCount     int
	AverageScore    float64
	AverageAccuracy float64
}

// FinalizeOutcome reports what SaveFinalization changed.
type FinalizeOutcome struct {
	// Transitioned is true only for the call that moved the session into
	// completed.
	Transitioned bool
	// Inserted is the number of results newly written.
	Inserted    int
	CompletedAt time.Time
}

// SaveFinalization marks the session completed and writes results, the
// dated leaderboard snapshot and analytics. Repeating it is safe: the
// completion time is only set once and existing results are kept.
func (s *Store) SaveFinalization(ctx context.Context, f Finalization) (FinalizeOutcome, error) {
	var out FinalizeOutcome
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = 'completed', completed_at = ? WHERE id = ? AND status != 'completed'`,
			millis(f.CompletedAt), f.SessionID)
		if err != nil {
			return fmt.Errorf("completing session: %w", err)
		}
		n, _ := res.RowsAffected()
		out.Transitioned = n == 1

		var started, completed sql.NullInt64
		err = tx.QueryRowContext(ctx,
			`SELECT started_at, completed_at FROM sessions WHERE id = ?`, f.SessionID,
		).Scan(&started, &completed)
		if err != nil {
			return notFound(err, "session "+f.SessionID)
		}
		out.CompletedAt = fromMillis(completed.Int64)

		now := millis(time.Now())
		for _, r := range f.Results {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO results (id, session_id, player_id, player_name, raw_score, correct_answers,
					total_answers, accuracy, tier, completion_time_ms, joined_at, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(session_id, player_id) DO NOTHING`,
				r.ID, f.SessionID, r.PlayerID, r.PlayerName, r.RawScore, r.CorrectAnswers,
				r.TotalAnswers, r.Accuracy, r.Tier, r.CompletionTimeMs, millis(r.JoinedAt), now,
			)
			if err != nil {
				return fmt.Errorf("inserting result for %s: %w", r.PlayerID, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				out.Inserted++
			}
		}

		snap := laotypo.LeaderboardSnapshot{
			SessionID: f.SessionID,
			TakenAt:   out.CompletedAt,
			Entries:   f.Snapshot,
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO leaderboard_snapshots (session_id, day, taken_at, data) VALUES (?, ?, ?, jsonb(?))
			ON CONFLICT(session_id, day) DO UPDATE SET taken_at = excluded.taken_at, data = excluded.data`,
			f.SessionID, out.CompletedAt.Format(time.DateOnly), millis(out.CompletedAt), string(data),
		)
		if err != nil {
			return fmt.Errorf("saving leaderboard snapshot: %w", err)
		}

		var duration int64
		if started.Valid && completed.Valid {
			duration = max(completed.Int64-started.Int64, 0)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_analytics (session_id, player_count, average_score, average_accuracy, duration_ms, computed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				player_count = excluded.player_count,
				average_score = excluded.average_score,
				average_accuracy = excluded.average_accuracy,
				duration_ms = excluded.duration_ms,
				computed_at = excluded.computed_at`,
			f.SessionID, f.PlayerCount, f.AverageScore, f.AverageAccuracy, duration, now,
		)
		if err != nil {
			return fmt.Errorf("saving analytics: %w", err)
		}
		return nil
	})
	if err != nil {
		return FinalizeOutcome{}, fmt.Errorf("finalizing session %s: %w", f.SessionID, err)
	}
	return out, nil
}

// Results returns a session's durable results, best score first.
func (s *Store) Results(ctx context.Context, sessionID string) ([]laotypo.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, player_id, player_name, raw_score, correct_answers, total_answers,
		       accuracy, tier, completion_time_ms, joined_at, created_at
		FROM results WHERE session_id = ?
		ORDER BY raw_score DESC, player_name`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	defer rows.Close()

	results := []laotypo.Result{}
	for rows.Next() {
		var (
			r         laotypo.Result
			joinedAt  int64
			createdAt int64
		)
		err := rows.Scan(&r.ID, &r.SessionID, &r.PlayerID, &r.PlayerName, &r.RawScore,
			&r.CorrectAnswers, &r.TotalAnswers, &r.Accuracy, &r.Tier, &r.CompletionTimeMs,
			&joinedAt, &createdAt)
		if err != nil {
			return nil, err
		}
		r.JoinedAt = fromMillis(joinedAt)
		r.CreatedAt = fromMillis(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Snapshots returns the dated leaderboard snapshots of a session.
func (s *Store) Snapshots(ctx context.Context, sessionID string) ([]laotypo.LeaderboardSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json(data) FROM leaderboard_snapshots WHERE session_id = ? ORDER BY taken_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []laotypo.LeaderboardSnapshot
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var snap laotypo.LeaderboardSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *Store) Analytics(ctx context.Context, sessionID string) (laotypo.SessionAnalytics, error) {
	var (
		a        laotypo.SessionAnalytics
		computed int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, player_count, average_score, average_accuracy, duration_ms, computed_at
		FROM session_analytics WHERE session_id = ?`, sessionID,
	).Scan(&a.SessionID, &a.PlayerCount, &a.AverageScore, &a.AverageAccuracy, &a.DurationMs, &computed)
	if err != nil {
		return laotypo.SessionAnalytics{}, notFound(err, "analytics "+sessionID)
	}
	a.ComputedAt = fromMillis(computed)
	return a, nil
}
