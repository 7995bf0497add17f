package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

const sessionColumns = `id, code, name, host_id, passage_id, level, max_lives, word_timer_seconds,
	max_players, status, player_count, created_at, started_at, completed_at`

func scanSession(row scanner) (laotypo.Session, error) {
	var (
		sess      laotypo.Session
		createdAt int64
		started   sql.NullInt64
		completed sql.NullInt64
	)
	err := row.Scan(&sess.ID, &sess.Code, &sess.Name, &sess.HostID, &sess.PassageID, &sess.Level,
		&sess.MaxLives, &sess.WordTimerSeconds, &sess.MaxPlayers, &sess.Status, &sess.PlayerCount,
		&createdAt, &started, &completed)
	if err != nil {
		return laotypo.Session{}, err
	}
	sess.CreatedAt = fromMillis(createdAt)
	sess.StartedAt = timePtr(started)
	sess.CompletedAt = timePtr(completed)
	if err := sess.Validate(); err != nil {
		return laotypo.Session{}, fmt.Errorf("reading session: %w", err)
	}
	return sess, nil
}

// CodeInUse reports whether a waiting or active session holds code.
func (s *Store) CodeInUse(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE code = ? AND status IN ('waiting', 'active')`, code,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking code %s: %w", code, err)
	}
	return n > 0, nil
}

// CreateSession inserts a new session. It returns ErrCodeTaken if another
// live session claimed the same code first.
func (s *Store) CreateSession(ctx context.Context, sess laotypo.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Code, sess.Name, sess.HostID, sess.PassageID, sess.Level, sess.MaxLives,
		sess.WordTimerSeconds, sess.MaxPlayers, string(sess.Status), sess.PlayerCount,
		millis(sess.CreatedAt), nullMillis(sess.StartedAt), nullMillis(sess.CompletedAt),
	)
	if isUniqueViolation(err) {
		return ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, id string) (laotypo.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return laotypo.Session{}, notFound(err, "session "+id)
	}
	return sess, nil
}

// LiveSessionByCode finds the waiting or active session holding code.
func (s *Store) LiveSessionByCode(ctx context.Context, code string) (laotypo.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE code = ? AND status IN ('waiting', 'active')`, code)
	sess, err := scanSession(row)
	if err != nil {
		return laotypo.Session{}, notFound(err, "session code "+code)
	}
	return sess, nil
}

// ReservePlayerSlot atomically increments player_count if the session is
// live and below capacity. The count is left untouched otherwise.
func (s *Store) ReservePlayerSlot(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE sessions SET player_count = player_count + 1
		WHERE id = ? AND status IN ('waiting', 'active') AND player_count < max_players
		RETURNING player_count`, id,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrSessionFull
	}
	if err != nil {
		return 0, fmt.Errorf("reserving slot in %s: %w", id, err)
	}
	return count, nil
}

// ReleasePlayerSlot undoes ReservePlayerSlot after a failed join.
func (s *Store) ReleasePlayerSlot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET player_count = player_count - 1 WHERE id = ? AND player_count > 0`, id)
	if err != nil {
		return fmt.Errorf("releasing slot in %s: %w", id, err)
	}
	return nil
}

// MarkActive moves a waiting session to active. It reports false if the
// session was not waiting.
func (s *Store) MarkActive(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'active', started_at = ? WHERE id = ? AND status = 'waiting'`,
		millis(at), id)
	if err != nil {
		return false, fmt.Errorf("activating session %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// SessionExists is used by the sweeper to detect orphaned realtime trees.
func (s *Store) SessionExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ExpiredSessions lists completed sessions whose completion is older than
// before.
func (s *Store) ExpiredSessions(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status = 'completed' AND completed_at < ? ORDER BY completed_at`,
		millis(before))
	if err != nil {
		return nil, fmt.Errorf("listing expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HostSession is a row of the host dashboard.
type HostSession struct {
	laotypo.Session
	Analytics *laotypo.SessionAnalytics `json:"analytics,omitempty"`
}

// HostSessions lists a host's sessions, newest first, with analytics for
// finalized ones.
func (s *Store) HostSessions(ctx context.Context, hostID string) ([]HostSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.code, s.name, s.host_id, s.passage_id, s.level, s.max_lives, s.word_timer_seconds,
		       s.max_players, s.status, s.player_count, s.created_at, s.started_at, s.completed_at,
		       a.player_count, a.average_score, a.average_accuracy, a.duration_ms, a.computed_at
		FROM sessions s
		LEFT JOIN session_analytics a ON a.session_id = s.id
		WHERE s.host_id = ?
		ORDER BY s.created_at DESC`, hostID)
	if err != nil {
		return nil, fmt.Errorf("listing host sessions: %w", err)
	}
	defer rows.Close()

	out := []HostSession{}
	for rows.Next() {
		var (
			hs        HostSession
			createdAt int64
			started   sql.NullInt64
			completed sql.NullInt64
			aCount    sql.NullInt64
			aScore    sql.NullFloat64
			aAccuracy sql.NullFloat64
			aDuration sql.NullInt64
			aComputed sql.NullInt64
		)
		err := rows.Scan(&hs.ID, &hs.Code, &hs.Name, &hs.HostID, &hs.PassageID, &hs.Level,
			&hs.MaxLives, &hs.WordTimerSeconds, &hs.MaxPlayers, &hs.Status, &hs.PlayerCount,
			&createdAt, &started, &completed,
			&aCount, &aScore, &aAccuracy, &aDuration, &aComputed)
		if err != nil {
			return nil, err
		}
		hs.CreatedAt = fromMillis(createdAt)
		hs.StartedAt = timePtr(started)
		hs.CompletedAt = timePtr(completed)
		if aComputed.Valid {
			hs.Analytics = &laotypo.SessionAnalytics{
				SessionID:       hs.ID,
				PlayerCount:     int(aCount.Int64),
				AverageScore:    aScore.Float64,
				AverageAccuracy: aAccuracy.Float64,
				DurationMs:      aDuration.Int64,
				ComputedAt:      fromMillis(aComputed.Int64),
			}
		}
		out = append(out, hs)
	}
	return out, rows.Err()
}
