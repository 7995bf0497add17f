package scoring

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

func words(n int, d laotypo.Difficulty) []laotypo.Word {
	ws := make([]laotypo.Word, n)
	for i := range ws {
		ws[i] = laotypo.Word{Word: "w", Correct: "ok", Difficulty: d}
	}
	return ws
}

func answers(pattern ...bool) []laotypo.Answer {
	as := make([]laotypo.Answer, len(pattern))
	for i, correct := range pattern {
		as[i] = laotypo.Answer{WordIndex: i, Answer: "nope"}
		if correct {
			as[i].Answer = "ok"
		}
	}
	return as
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		history []laotypo.Answer
		words   []laotypo.Word
		want    Result
	}{
		{
			name:    "five correct at difficulty 1",
			history: answers(repeat(true, 5)...),
			words:   words(5, "1"),
			want:    Result{FinalScore: 60, Accuracy: 100, TotalWords: 5, CorrectAnswers: 5, MaxStreak: 5},
		},
		{
			name:    "single correct at difficulty 2",
			history: []laotypo.Answer{{WordIndex: 0, Answer: "X"}},
			words:   []laotypo.Word{{Correct: "X", Difficulty: "2"}},
			want:    Result{FinalScore: 15, Accuracy: 100, TotalWords: 1, CorrectAnswers: 1, MaxStreak: 1},
		},
		{
			name:    "wrong answer resets streak",
			history: answers(true, true, false, true),
			words:   words(4, "1"),
			want:    Result{FinalScore: 31, Accuracy: 75, TotalWords: 4, CorrectAnswers: 3, WrongAnswers: 1, MaxStreak: 2},
		},
		{
			name:    "fifteen in a row completes a level",
			history: answers(repeat(true, 15)...),
			words:   words(15, "easy"),
			want:    Result{FinalScore: 255, Accuracy: 100, TotalWords: 15, CorrectAnswers: 15, MaxStreak: 15, LevelsCompleted: 1},
		},
		{
			name:    "multiplier caps at 3x",
			history: answers(repeat(true, 30)...),
			words:   words(30, "1"),
			want:    Result{FinalScore: 690, Accuracy: 100, TotalWords: 30, CorrectAnswers: 30, MaxStreak: 30, LevelsCompleted: 2},
		},
		{
			name:    "accuracy rounds to two decimals",
			history: answers(true, false, false),
			words:   words(3, "hard"),
			want:    Result{FinalScore: 20, Accuracy: 33.33, TotalWords: 3, CorrectAnswers: 1, WrongAnswers: 2, MaxStreak: 1},
		},
		{
			name: "out of range answers are skipped",
			history: []laotypo.Answer{
				{WordIndex: 0, Answer: "ok"},
				{WordIndex: 7, Answer: "ok"},
				{WordIndex: -1, Answer: "ok"},
			},
			words: words(2, "1"),
			want:  Result{FinalScore: 10, Accuracy: 100, TotalWords: 1, CorrectAnswers: 1, MaxStreak: 1},
		},
		{
			name:    "matching is exact",
			history: []laotypo.Answer{{WordIndex: 0, Answer: "OK"}, {WordIndex: 1, Answer: " ok"}},
			words:   words(2, "1"),
			want:    Result{TotalWords: 2, WrongAnswers: 2},
		},
		{
			name:  "no answers",
			words: words(3, "1"),
			want:  Result{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.history, tt.words)
			if got != tt.want {
				t.Errorf("Score() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScoreIsPure(t *testing.T) {
	history := answers(true, true, false, true, true, true, false, true)
	ws := words(8, "2")

	a, _ := json.Marshal(Score(history, ws))
	b, _ := json.Marshal(Score(history, ws))
	if string(a) != string(b) {
		t.Fatalf("Score is not deterministic: %s vs %s", a, b)
	}

	before := append([]laotypo.Answer(nil), history...)
	Score(history, ws)
	if !reflect.DeepEqual(before, history) {
		t.Fatal("Score mutated its input")
	}
}

func TestPrefixScoresNeverDecrease(t *testing.T) {
	history := answers(true, false, true, true, false, false, true, true, true)
	ws := words(len(history), "3")

	prev := 0
	for i := 1; i <= len(history); i++ {
		got := Score(history[:i], ws).FinalScore
		if got < prev {
			t.Fatalf("score dropped from %d to %d at prefix %d", prev, got, i)
		}
		prev = got
	}
}

func TestBaseScore(t *testing.T) {
	tests := map[laotypo.Difficulty]int{
		"1": 10, "2": 15, "3": 20,
		"easy": 10, "medium": 15, "hard": 20,
		"": 10, "9": 10, "legendary": 10,
	}
	for d, want := range tests {
		if got := BaseScore(d); got != want {
			t.Errorf("BaseScore(%q) = %d, want %d", d, got, want)
		}
	}
}

func TestTier(t *testing.T) {
	tests := []struct {
		accuracy float64
		want     string
	}{
		{100, TierMaster},
		{90, TierMaster},
		{89.99, TierAdvanced},
		{70, TierAdvanced},
		{40, TierIntermediate},
		{39.99, TierBeginner},
		{0, TierBeginner},
	}
	for _, tt := range tests {
		if got := Tier(tt.accuracy); got != tt.want {
			t.Errorf("Tier(%v) = %q, want %q", tt.accuracy, got, tt.want)
		}
	}
}
