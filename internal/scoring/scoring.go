// Package scoring is the single source of truth for game scores. Score must
// stay byte-for-byte identical to the client preview, so it only uses
// float64 operations in the same order as the browser does.
package scoring

import (
	"math"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

const (
	// LevelStreak is the number of consecutive correct answers per level.
	LevelStreak = 15

	maxMultiplier = 3.0
	streakStep    = 0.1
)

// Result is the outcome of scoring one answer history.
type Result struct {
	FinalScore      int     `json:"finalScore"`
	Accuracy        float64 `json:"accuracy"`
	TotalWords      int     `json:"totalWords"`
	CorrectAnswers  int     `json:"correctAnswers"`
	WrongAnswers    int     `json:"wrongAnswers"`
	MaxStreak       int     `json:"maxStreak"`
	LevelsCompleted int     `json:"levelsCompleted"`
}

// BaseScore returns the points for a correct answer before the streak
// multiplier.
func BaseScore(d laotypo.Difficulty) int {
	switch d {
	case "1", "easy":
		return 10
	case "2", "medium":
		return 15
	case "3", "hard":
		return 20
	}
	return 10
}

// Multiplier returns the streak multiplier for the given current streak.
func Multiplier(streak int) float64 {
	// The explicit conversion stops the compiler from fusing the
	// multiply-add, which would round differently from the browser.
	step := float64(float64(streak-1) * streakStep)
	return math.Min(1+step, maxMultiplier)
}

// WordScore is floor(base * multiplier) for one correct answer.
func WordScore(d laotypo.Difficulty, streak int) int {
	return int(math.Floor(float64(BaseScore(d)) * Multiplier(streak)))
}

// IsCorrect reports whether answer matches the word's correct spelling.
// Matching is exact: no trimming or case folding.
func IsCorrect(w laotypo.Word, answer string) bool {
	return answer == w.Correct
}

// Score replays history in order against words. Answers pointing outside
// words are ignored.
func Score(history []laotypo.Answer, words []laotypo.Word) Result {
	var r Result
	streak := 0
	for _, a := range history {
		if a.WordIndex < 0 || a.WordIndex >= len(words) {
			continue
		}
		w := words[a.WordIndex]
		if !IsCorrect(w, a.Answer) {
			r.WrongAnswers++
			streak = 0
			continue
		}
		r.CorrectAnswers++
		streak++
		r.MaxStreak = max(r.MaxStreak, streak)
		r.FinalScore += WordScore(w.Difficulty, streak)
		if streak%LevelStreak == 0 {
			r.LevelsCompleted++
		}
	}
	r.TotalWords = r.CorrectAnswers + r.WrongAnswers
	r.Accuracy = Accuracy(r.CorrectAnswers, r.TotalWords)
	return r
}

// Accuracy is correct/total as a percentage rounded half-up to two decimals,
// or 0 when total is 0.
func Accuracy(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(correct) / float64(total) * 100
	return math.Floor(float64(pct*100)+0.5) / 100
}

const (
	TierMaster       = "Master"
	TierAdvanced     = "Advanced"
	TierIntermediate = "Intermediate"
	TierBeginner     = "Beginner"
)

// Tier classifies a finished player by accuracy percentage.
func Tier(accuracy float64) string {
	switch {
	case accuracy >= 90:
		return TierMaster
	case accuracy >= 70:
		return TierAdvanced
	case accuracy >= 40:
		return TierIntermediate
	}
	return TierBeginner
}
