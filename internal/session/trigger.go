package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/scoring"
)

// trigger asks for one player's score to be recomputed after a new game
// event.
type trigger struct {
	sessionID string
	playerID  string
}

// enqueue hands t to the workers, waiting while the queue is full. It does
// not watch the request context: the answer behind t is already stored.
// After the workers stop, t is dropped and the sweeper picks the session up.
func (m *Manager) enqueue(t trigger) {
	select {
	case m.triggers <- t:
	case <-m.stopped:
		m.logger.Warn("trigger dropped after shutdown", "session_id", t.sessionID, "player_id", t.playerID)
	}
}

// RunTriggers drains the trigger queue with the given number of workers
// until ctx is cancelled. Trigger failures are logged, never returned.
func (m *Manager) RunTriggers(ctx context.Context, workers int) error {
	defer m.stop.Do(func() { close(m.stopped) })
	g, ctx := errgroup.WithContext(ctx)
	for range max(workers, 1) {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case t := <-m.triggers:
					if err := m.OnGameEvent(ctx, t.sessionID, t.playerID); err != nil {
						m.logger.Error("game event trigger",
							"session_id", t.sessionID, "player_id", t.playerID, "error", err)
					}
				}
			}
		})
	}
	return g.Wait()
}

// OnGameEvent recomputes a player's score from their full answer history
// and raises the live leaderboard entry, then checks whether the session is
// over. The stored score only ever grows, so triggers may run in any order
// and any number of times.
func (m *Manager) OnGameEvent(ctx context.Context, sessionID, playerID string) error {
	words, err := m.words(ctx, sessionID)
	if err != nil {
		return err
	}
	events, err := m.tree.Events(ctx, sessionID)
	if err != nil {
		return err
	}

	history, last := answerHistory(events, playerID)
	if len(history) == 0 {
		return nil
	}

	res := scoring.Score(history, words)
	if _, err := m.tree.RaiseScore(ctx, sessionID, playerID, res.FinalScore, last); err != nil {
		return err
	}
	return m.CheckCompletion(ctx, sessionID, len(words))
}

// answerHistory collects one player's answers in log order along with the
// time of the latest one.
func answerHistory(events []laotypo.GameEvent, playerID string) ([]laotypo.Answer, time.Time) {
	var (
		history []laotypo.Answer
		last    time.Time
	)
	for _, e := range events {
		if e.PlayerID != playerID {
			continue
		}
		history = append(history, laotypo.Answer{WordIndex: e.WordIndex, Answer: e.Answer})
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return history, last
}

// CheckCompletion completes an active session once every player has run
// out of lives or words. Only the caller whose status change succeeds runs
// the finalizer.
func (m *Manager) CheckCompletion(ctx context.Context, sessionID string, totalWords int) error {
	players, err := m.tree.Players(ctx, sessionID)
	if err != nil {
		return err
	}

	done := len(players) > 0
	maxIndex := 0
	for _, p := range players {
		maxIndex = max(maxIndex, p.CurrentIndex)
		if !p.Done(totalWords) {
			done = false
		}
	}
	if err := m.tree.SetNextWordIndex(ctx, sessionID, maxIndex); err != nil {
		return err
	}
	if !done {
		return nil
	}

	ok, err := m.tree.CompareAndSetStatus(ctx, sessionID, laotypo.StatusActive, laotypo.StatusCompleted)
	if err != nil {
		return fmt.Errorf("completing session: %w", err)
	}
	if !ok {
		return nil
	}
	m.logger.Info("session completed", "session_id", sessionID, "players", len(players))
	if err := m.OnSessionCompleted(ctx, sessionID); err != nil {
		m.logger.Error("finalizing session", "session_id", sessionID, "error", err)
	}
	return nil
}

// checkStalled repairs a session whose lifecycle stopped halfway, for
// example across a restart: a start whose countdown was lost, a last trigger
// that never ran, or a completion that was never finalized.
func (m *Manager) checkStalled(ctx context.Context, sessionID string) error {
	status, err := m.tree.Status(ctx, sessionID)
	if err != nil {
		return err
	}
	switch status {
	case laotypo.StatusStarting:
		if _, counting := m.countdowns.Load(sessionID); counting {
			return nil
		}
		m.logger.Warn("resuming interrupted start", "session_id", sessionID)
		return m.activate(ctx, sessionID)
	case laotypo.StatusActive:
		words, err := m.words(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("loading words: %w", err)
		}
		return m.CheckCompletion(ctx, sessionID, len(words))
	case laotypo.StatusCompleted:
		sess, err := m.store.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == laotypo.StatusCompleted {
			return nil
		}
		m.logger.Warn("finalizing unfinished session", "session_id", sessionID)
		return m.OnSessionCompleted(ctx, sessionID)
	}
	return nil
}
