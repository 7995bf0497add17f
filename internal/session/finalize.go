package session

import (
	"cmp"
	"context"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/scoring"
	"github.com/laotypo/sessionsrv/internal/store"
)

// OnSessionCompleted persists durable results for a session that just
// moved to completed. Running it again for the same session writes nothing
// new.
func (m *Manager) OnSessionCompleted(ctx context.Context, sessionID string) error {
	var (
		tree  laotypo.Tree
		words []laotypo.Word
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tree, err = m.tree.Read(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		words, err = m.words(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		_, err := m.store.Session(gctx, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	f := BuildFinalization(tree, words, m.now())
	out, err := m.store.SaveFinalization(ctx, f)
	if err != nil {
		return err
	}
	m.logger.Info("session finalized",
		"session_id", sessionID,
		"results", out.Inserted,
		"first_completion", out.Transitioned,
		"average_score", f.AverageScore,
	)
	return nil
}

// BuildFinalization turns a completed realtime tree into durable results,
// a ranked snapshot and aggregates. Scores are recomputed from the event
// log, so a trigger still queued when the session completed cannot leave a
// stale score behind. The live leaderboard wins when it is higher.
func BuildFinalization(tree laotypo.Tree, words []laotypo.Word, completedAt time.Time) store.Finalization {
	type tally struct{ correct, total int }
	tallies := make(map[string]*tally, len(tree.Players))
	for _, e := range tree.Events {
		t := tallies[e.PlayerID]
		if t == nil {
			t = &tally{}
			tallies[e.PlayerID] = t
		}
		t.total++
		if e.IsCorrect {
			t.correct++
		}
	}

	f := store.Finalization{
		SessionID:   tree.SessionID,
		CompletedAt: completedAt,
		PlayerCount: len(tree.Players),
	}
	var scoreSum, accuracySum float64
	for _, p := range tree.Players {
		var t tally
		if tt := tallies[p.ID]; tt != nil {
			t = *tt
		}
		entry := tree.Leaderboard[p.ID]
		raw, scoredAt := entry.Score, entry.LastScoredAt
		if history, last := answerHistory(tree.Events, p.ID); len(history) > 0 {
			if res := scoring.Score(history, words); res.FinalScore > raw {
				raw, scoredAt = res.FinalScore, &last
			}
		}

		var completion int64
		if raw > 0 && scoredAt != nil {
			completion = max(scoredAt.Sub(p.JoinedAt).Milliseconds(), 0)
		}
		accuracy := scoring.Accuracy(t.correct, t.total)

		f.Results = append(f.Results, laotypo.Result{
			SessionID:        tree.SessionID,
			PlayerID:         p.ID,
			PlayerName:       p.Name,
			RawScore:         raw,
			CorrectAnswers:   t.correct,
			TotalAnswers:     t.total,
			Accuracy:         accuracy,
			Tier:             scoring.Tier(accuracy),
			CompletionTimeMs: completion,
			JoinedAt:         p.JoinedAt,
		})
		scoreSum += float64(raw)
		accuracySum += accuracy
	}

	slices.SortFunc(f.Results, func(a, b laotypo.Result) int {
		return cmp.Or(
			cmp.Compare(b.RawScore, a.RawScore),
			cmp.Compare(a.PlayerName, b.PlayerName),
			cmp.Compare(a.PlayerID, b.PlayerID),
		)
	})
	for i, r := range f.Results {
		f.Snapshot = append(f.Snapshot, laotypo.RankedEntry{
			Rank:       i + 1,
			PlayerID:   r.PlayerID,
			PlayerName: r.PlayerName,
			Score:      r.RawScore,
		})
	}

	if n := len(tree.Players); n > 0 {
		f.AverageScore = round2(scoreSum / float64(n))
		f.AverageAccuracy = round2(accuracySum / float64(n))
	}
	return f
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
