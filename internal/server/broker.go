package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/laotypo/sessionsrv/internal/realtime"
)

type changeSource interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan realtime.Change, error)
}

// topic is one Redis subscription shared by every local listener of a
// session.
type topic struct {
	subs   map[chan []byte]struct{}
	cancel context.CancelFunc
}

// Broker fans realtime changes out to SSE and WebSocket clients, keeping a
// single upstream subscription per session.
type Broker struct {
	source changeSource
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]*topic
}

func NewBroker(source changeSource, logger *slog.Logger) *Broker {
	return &Broker{
		source: source,
		logger: logger,
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel of JSON-encoded changes for the session. The
// channel is closed if the upstream subscription ends.
func (b *Broker) Subscribe(sessionID string) (chan []byte, error) {
	ch := make(chan []byte, 16)

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topics[sessionID]
	if t == nil {
		ctx, cancel := context.WithCancel(context.Background())
		changes, err := b.source.Subscribe(ctx, sessionID)
		if err != nil {
			cancel()
			return nil, err
		}
		t = &topic{subs: make(map[chan []byte]struct{}), cancel: cancel}
		b.topics[sessionID] = t
		go b.forward(sessionID, t, changes)
	}
	t.subs[ch] = struct{}{}
	return ch, nil
}

// Unsubscribe removes a channel from the session's subscribers, dropping
// the upstream subscription with the last one.
func (b *Broker) Unsubscribe(sessionID string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topics[sessionID]
	if t == nil {
		return
	}
	delete(t.subs, ch)
	if len(t.subs) == 0 {
		t.cancel()
		delete(b.topics, sessionID)
	}
}

// Close ends every upstream subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.topics {
		t.cancel()
		delete(b.topics, id)
	}
}

func (b *Broker) forward(sessionID string, t *topic, changes <-chan realtime.Change) {
	for c := range changes {
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		b.mu.Lock()
		for ch := range t.subs {
			select {
			case ch <- data:
			default:
				// Drop if subscriber is slow.
			}
		}
		b.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[sessionID] == t {
		delete(b.topics, sessionID)
	}
	for ch := range t.subs {
		close(ch)
	}
	t.subs = nil
	b.logger.Debug("change stream ended", "session_id", sessionID)
}
