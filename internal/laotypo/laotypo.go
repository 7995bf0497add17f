// Package laotypo defines the core domain types shared by the stores, the
// session core and the HTTP layer. It has no external dependencies.
package laotypo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SessionStatus string

const (
	StatusWaiting SessionStatus = "waiting"
	// StatusStarting only ever appears in the realtime tree, during the
	// countdown between waiting and active.
	StatusStarting  SessionStatus = "starting"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Live reports whether a session in this status still holds its code.
func (s SessionStatus) Live() bool {
	return s == StatusWaiting || s == StatusStarting || s == StatusActive
}

type Session struct {
	ID               string        `json:"id"`
	Code             string        `json:"code"`
	Name             string        `json:"name"`
	HostID           string        `json:"hostId"`
	PassageID        string        `json:"passageId"`
	Level            int           `json:"level"`
	MaxLives         int           `json:"maxLives"`
	WordTimerSeconds int           `json:"wordTimerSeconds"`
	MaxPlayers       int           `json:"maxPlayers"`
	Status           SessionStatus `json:"status"`
	PlayerCount      int           `json:"playerCount"`
	CreatedAt        time.Time     `json:"createdAt"`
	StartedAt        *time.Time    `json:"startedAt,omitempty"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
}

func (s *Session) Validate() error {
	switch {
	case s.ID == "":
		return errors.New("session: missing id")
	case len(s.Code) != CodeLength:
		return fmt.Errorf("session %s: bad code %q", s.ID, s.Code)
	case s.HostID == "":
		return fmt.Errorf("session %s: missing host", s.ID)
	case s.MaxLives < 1:
		return fmt.Errorf("session %s: maxLives %d", s.ID, s.MaxLives)
	case s.Status != StatusWaiting && s.Status != StatusActive && s.Status != StatusCompleted:
		return fmt.Errorf("session %s: unknown status %q", s.ID, s.Status)
	}
	return nil
}

// Difficulty is a word's difficulty as stored in the word bank. Both the
// numeric (1, 2, 3) and named (easy, medium, hard) spellings are accepted.
type Difficulty string

func (d *Difficulty) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*d = ""
		return nil
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*d = Difficulty(strings.ToLower(strings.TrimSpace(v)))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("difficulty: %w", err)
	}
	*d = Difficulty(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

type Word struct {
	Word       string     `json:"word"`
	Options    []string   `json:"options,omitempty"`
	Correct    string     `json:"correct"`
	Difficulty Difficulty `json:"difficulty"`
}

type Passage struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Level     int       `json:"level"`
	Words     []Word    `json:"words"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p *Passage) Validate() error {
	if p.ID == "" {
		return errors.New("passage: missing id")
	}
	if len(p.Words) == 0 {
		return fmt.Errorf("passage %s: no words", p.ID)
	}
	for i, w := range p.Words {
		if w.Correct == "" {
			return fmt.Errorf("passage %s: word %d has no correct answer", p.ID, i)
		}
	}
	return nil
}

// Answer is one entry of a player's ordered answer history.
type Answer struct {
	WordIndex int    `json:"wordIndex"`
	Answer    string `json:"answer"`
}

type Player struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CurrentIndex   int       `json:"currentIndex"`
	RemainingLives int       `json:"remainingLives"`
	JoinedAt       time.Time `json:"joinedAt"`
	Guest          bool      `json:"guest,omitempty"`
}

func (p *Player) Validate() error {
	switch {
	case p.ID == "":
		return errors.New("player: missing id")
	case p.Name == "":
		return fmt.Errorf("player %s: missing name", p.ID)
	case p.CurrentIndex < 0 || p.RemainingLives < 0:
		return fmt.Errorf("player %s: negative progress", p.ID)
	case p.JoinedAt.IsZero():
		return fmt.Errorf("player %s: missing joinedAt", p.ID)
	}
	return nil
}

// Done reports whether the player can no longer answer.
func (p *Player) Done(totalWords int) bool {
	return p.RemainingLives == 0 || p.CurrentIndex >= totalWords
}

type GameEvent struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"playerId"`
	WordIndex int       `json:"wordIndex"`
	Answer    string    `json:"answer"`
	IsCorrect bool      `json:"isCorrect"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *GameEvent) Validate() error {
	switch {
	case e.ID == "" || e.PlayerID == "":
		return errors.New("game event: missing id")
	case e.WordIndex < 0:
		return fmt.Errorf("game event %s: negative word index", e.ID)
	case e.Timestamp.IsZero():
		return fmt.Errorf("game event %s: missing timestamp", e.ID)
	}
	return nil
}

type LeaderboardEntry struct {
	PlayerID     string     `json:"playerId"`
	Score        int        `json:"score"`
	LastScoredAt *time.Time `json:"lastScoredAt,omitempty"`
}

type Message struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// Tree is a full read of one session's realtime subtree.
type Tree struct {
	SessionID     string                      `json:"sessionId"`
	Status        SessionStatus               `json:"status"`
	NextWordIndex int                         `json:"nextWordIndex"`
	Players       map[string]Player           `json:"players"`
	Leaderboard   map[string]LeaderboardEntry `json:"leaderboard"`
	Messages      []Message                   `json:"messages"`
	Events        []GameEvent                 `json:"gameEvents"`
}

type Result struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	PlayerID         string    `json:"playerId"`
	PlayerName       string    `json:"playerName"`
	RawScore         int       `json:"rawScore"`
	CorrectAnswers   int       `json:"correctAnswers"`
	TotalAnswers     int       `json:"totalAnswers"`
	Accuracy         float64   `json:"accuracy"`
	Tier             string    `json:"tier"`
	CompletionTimeMs int64     `json:"completionTimeMs"`
	JoinedAt         time.Time `json:"joinedAt"`
	CreatedAt        time.Time `json:"createdAt"`
}

type RankedEntry struct {
	Rank       int    `json:"rank"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Score      int    `json:"score"`
}

type LeaderboardSnapshot struct {
	SessionID string        `json:"sessionId"`
	TakenAt   time.Time     `json:"takenAt"`
	Entries   []RankedEntry `json:"entries"`
}

type SessionAnalytics struct {
	SessionID       string    `json:"sessionId"`
	PlayerCount     int       `json:"playerCount"`
	AverageScore    float64   `json:"averageScore"`
	AverageAccuracy float64   `json:"averageAccuracy"`
	DurationMs      int64     `json:"durationMs"`
	ComputedAt      time.Time `json:"computedAt"`
}

// ValidatedEntry is a global leaderboard row written by the score validator.
type ValidatedEntry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	PlayerName      string    `json:"playerName"`
	FinalScore      int       `json:"finalScore"`
	Accuracy        float64   `json:"accuracy"`
	TotalWords      int       `json:"totalWords"`
	CorrectAnswers  int       `json:"correctAnswers"`
	WrongAnswers    int       `json:"wrongAnswers"`
	MaxStreak       int       `json:"streak"`
	LevelsCompleted int       `json:"levelsCompleted"`
	Difficulty      string    `json:"difficulty"`
	GameDurationMs  int64     `json:"gameDuration"`
	Validated       bool      `json:"validated"`
	AnswerHistory   []Answer  `json:"answerHistory,omitempty"`
	CreatedAt       time.Time `json:"timestamp"`
}

type UserStats struct {
	UserID          string     `json:"userId"`
	TotalGames      int        `json:"totalGames"`
	TotalScore      int        `json:"totalScore"`
	BestScore       int        `json:"bestScore"`
	BestAccuracy    float64    `json:"bestAccuracy"`
	BestStreak      int        `json:"bestStreak"`
	TotalWords      int        `json:"totalWords"`
	CorrectWords    int        `json:"correctWords"`
	AverageAccuracy float64    `json:"averageAccuracy"`
	LastGameAt      *time.Time `json:"lastGame,omitempty"`
	UpdatedAt       time.Time  `json:"lastUpdated"`
}

// Identity is the verified caller of a request. A zero Identity is an
// anonymous caller.
type Identity struct {
	UserID string
	Name   string
	Admin  bool
}

func (id Identity) Authenticated() bool { return id.UserID != "" }

// PlayerRef identifies a joined player within one session.
type PlayerRef struct {
	SessionID string
	PlayerID  string
	Name      string
}

const CodeLength = 6
