package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/laotypo/sessionsrv/internal/realtime"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	feeds map[string]chan realtime.Change
}

func (f *fakeSource) Subscribe(ctx context.Context, sessionID string) (<-chan realtime.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	in := make(chan realtime.Change)
	out := make(chan realtime.Change)
	f.feeds[sessionID] = in
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c := <-in:
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

func (f *fakeSource) send(sessionID string, c realtime.Change) {
	f.mu.Lock()
	in := f.feeds[sessionID]
	f.mu.Unlock()
	in <- c
}

func receive(t *testing.T, ch chan []byte) realtime.Change {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		var c realtime.Change
		if err := json.Unmarshal(data, &c); err != nil {
			t.Fatalf("decoding change: %v", err)
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return realtime.Change{}
}

func TestBrokerSharesUpstream(t *testing.T) {
	src := &fakeSource{feeds: make(map[string]chan realtime.Change)}
	b := NewBroker(src, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer b.Close()

	a, err := b.Subscribe("s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	c, err := b.Subscribe("s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("upstream subscriptions = %d, want 1", src.calls)
	}

	src.send("s1", realtime.Change{Type: realtime.ChangeMessage, SessionID: "s1"})
	for _, ch := range []chan []byte{a, c} {
		if got := receive(t, ch); got.Type != realtime.ChangeMessage {
			t.Errorf("type = %q, want message", got.Type)
		}
	}

	b.Unsubscribe("s1", a)
	b.Unsubscribe("s1", c)

	if _, err := b.Subscribe("s1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("upstream subscriptions = %d, want 2 after resubscribe", src.calls)
	}
}

func TestBrokerCloseEndsSubscribers(t *testing.T) {
	src := &fakeSource{feeds: make(map[string]chan realtime.Change)}
	b := NewBroker(src, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ch, err := b.Subscribe("s1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received data, want closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}
