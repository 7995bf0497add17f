package session

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/laotypo/sessionsrv/internal/laotypo"
	"github.com/laotypo/sessionsrv/internal/realtime"
	"github.com/laotypo/sessionsrv/internal/scoring"
)

const (
	MaxMessageLength = 200
	messageHistory   = 50
)

var errPlayerFinished = laotypo.Errorf(laotypo.KindInvalidArgument, "player has no answers left")

type AnswerOutcome struct {
	Correct        bool `json:"correct"`
	CurrentIndex   int  `json:"currentIndex"`
	RemainingLives int  `json:"remainingLives"`
}

// SubmitAnswer records one answer of a player in an active session and
// queues it for scoring.
func (m *Manager) SubmitAnswer(ctx context.Context, ref laotypo.PlayerRef, wordIndex int, answer string) (AnswerOutcome, error) {
	status, err := m.tree.Status(ctx, ref.SessionID)
	if errors.Is(err, realtime.ErrNotFound) {
		return AnswerOutcome{}, laotypo.Errorf(laotypo.KindNotFound, "session %s not found", ref.SessionID)
	}
	if err != nil {
		return AnswerOutcome{}, laotypo.Internal("reading status", err)
	}
	if status != laotypo.StatusActive {
		return AnswerOutcome{}, laotypo.Errorf(laotypo.KindInvalidArgument, "session is %s, not active", status)
	}

	words, err := m.words(ctx, ref.SessionID)
	if err != nil {
		return AnswerOutcome{}, laotypo.Internal("loading words", err)
	}
	if wordIndex < 0 || wordIndex >= len(words) {
		return AnswerOutcome{}, laotypo.Errorf(laotypo.KindInvalidArgument, "word index %d out of range", wordIndex)
	}
	correct := scoring.IsCorrect(words[wordIndex], answer)

	event := laotypo.GameEvent{
		ID:        uuid.NewString(),
		PlayerID:  ref.PlayerID,
		WordIndex: wordIndex,
		Answer:    answer,
		IsCorrect: correct,
		Timestamp: m.now(),
	}
	p, err := m.tree.RecordAnswer(ctx, ref.SessionID, ref.PlayerID, event, func(p *laotypo.Player) error {
		if p.Done(len(words)) {
			return errPlayerFinished
		}
		p.CurrentIndex = max(p.CurrentIndex, wordIndex+1)
		if !correct {
			p.RemainingLives--
		}
		return nil
	})
	switch {
	case errors.Is(err, realtime.ErrNotFound):
		return AnswerOutcome{}, laotypo.Errorf(laotypo.KindNotFound, "player %s is not in this session", ref.PlayerID)
	case errors.Is(err, errPlayerFinished):
		return AnswerOutcome{}, errPlayerFinished
	case err != nil:
		return AnswerOutcome{}, laotypo.Internal("recording answer", err)
	}

	m.enqueue(trigger{sessionID: ref.SessionID, playerID: ref.PlayerID})

	return AnswerOutcome{Correct: correct, CurrentIndex: p.CurrentIndex, RemainingLives: p.RemainingLives}, nil
}

// PostMessage appends a chat message from a joined player.
func (m *Manager) PostMessage(ctx context.Context, ref laotypo.PlayerRef, text string) (laotypo.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return laotypo.Message{}, laotypo.Errorf(laotypo.KindInvalidArgument, "message is empty")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return laotypo.Message{}, laotypo.Errorf(laotypo.KindInvalidArgument, "message is longer than %d characters", MaxMessageLength)
	}

	p, err := m.tree.Player(ctx, ref.SessionID, ref.PlayerID)
	if errors.Is(err, realtime.ErrNotFound) {
		return laotypo.Message{}, laotypo.Errorf(laotypo.KindNotFound, "player %s is not in this session", ref.PlayerID)
	}
	if err != nil {
		return laotypo.Message{}, laotypo.Internal("reading player", err)
	}

	msg := laotypo.Message{
		ID:         uuid.NewString(),
		PlayerID:   p.ID,
		PlayerName: p.Name,
		Text:       text,
		Timestamp:  m.now(),
	}
	if err := m.tree.PostMessage(ctx, ref.SessionID, msg); err != nil {
		return laotypo.Message{}, laotypo.Internal("posting message", err)
	}
	return msg, nil
}

// Messages returns the most recent chat messages, oldest first.
func (m *Manager) Messages(ctx context.Context, sessionID string) ([]laotypo.Message, error) {
	exists, err := m.tree.Exists(ctx, sessionID)
	if err != nil {
		return nil, laotypo.Internal("reading messages", err)
	}
	if !exists {
		return nil, laotypo.Errorf(laotypo.KindNotFound, "session %s not found", sessionID)
	}
	msgs, err := m.tree.Messages(ctx, sessionID, messageHistory)
	if err != nil {
		return nil, laotypo.Internal("reading messages", err)
	}
	return msgs, nil
}
