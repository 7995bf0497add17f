package realtime

import (
	"context"
	"encoding/json"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

// ChangeType names what part of the tree changed.
type ChangeType string

const (
	ChangeStatus        ChangeType = "status"
	ChangePlayerJoined  ChangeType = "player_joined"
	ChangePlayerUpdated ChangeType = "player_updated"
	ChangePlayerLeft    ChangeType = "player_left"
	ChangeLeaderboard   ChangeType = "leaderboard"
	ChangeMessage       ChangeType = "message"
)

// Change is the notification published after every tree mutation.
type Change struct {
	Type       ChangeType            `json:"type"`
	SessionID  string                `json:"sessionId"`
	Status     laotypo.SessionStatus `json:"status,omitempty"`
	PlayerID   string                `json:"playerId,omitempty"`
	PlayerName string                `json:"playerName,omitempty"`
	Score      int                   `json:"score,omitempty"`
	Message    *laotypo.Message      `json:"message,omitempty"`
}

func channel(sessionID string) string {
	return key(sessionID, "changes")
}

// publish is best effort: subscribers re-read the tree on reconnect.
func (t *Tree) publish(ctx context.Context, c Change) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := t.rdb.Publish(ctx, channel(c.SessionID), data).Err(); err != nil {
		t.logger.Warn("publishing change", "session_id", c.SessionID, "type", c.Type, "error", err)
	}
}

// Subscribe streams the session's changes until ctx is cancelled.
// The returned channel is closed when the subscription ends.
func (t *Tree) Subscribe(ctx context.Context, sessionID string) (<-chan Change, error) {
	sub := t.rdb.Subscribe(ctx, channel(sessionID))
	// Wait for the confirmation so no publish after return is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
