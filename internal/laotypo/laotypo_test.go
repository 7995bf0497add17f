package laotypo

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDifficultyUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want Difficulty
	}{
		{`{"correct":"a","difficulty":2}`, "2"},
		{`{"correct":"a","difficulty":3.0}`, "3"},
		{`{"correct":"a","difficulty":"Medium"}`, "medium"},
		{`{"correct":"a","difficulty":null}`, ""},
		{`{"correct":"a"}`, ""},
	}
	for _, tt := range tests {
		var w Word
		if err := json.Unmarshal([]byte(tt.in), &w); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if w.Difficulty != tt.want {
			t.Errorf("%s: difficulty = %q, want %q", tt.in, w.Difficulty, tt.want)
		}
	}

	var w Word
	if err := json.Unmarshal([]byte(`{"difficulty":true}`), &w); err == nil {
		t.Error("expected error for boolean difficulty")
	}
}

func TestValidateRejectsMalformedDocuments(t *testing.T) {
	now := time.Now()

	good := Player{ID: "p1", Name: "Noy", RemainingLives: 3, JoinedAt: now}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid player rejected: %v", err)
	}

	bad := []Player{
		{Name: "x", JoinedAt: now},
		{ID: "p1", JoinedAt: now},
		{ID: "p1", Name: "x", RemainingLives: -1, JoinedAt: now},
		{ID: "p1", Name: "x"},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("player %d: expected validation error", i)
		}
	}

	s := Session{ID: "s1", Code: "ABC123", HostID: "h", MaxLives: 3, Status: "paused"}
	if err := s.Validate(); err == nil {
		t.Error("expected error for unknown status")
	}
	s.Status = StatusWaiting
	if err := s.Validate(); err != nil {
		t.Errorf("valid session rejected: %v", err)
	}

	p := Passage{ID: "p", Words: []Word{{Word: "a"}}}
	if err := p.Validate(); err == nil {
		t.Error("expected error for word without correct answer")
	}
}

func TestPlayerDone(t *testing.T) {
	p := Player{CurrentIndex: 2, RemainingLives: 1}
	if p.Done(5) {
		t.Error("player with lives and words left should not be done")
	}
	if !p.Done(2) {
		t.Error("player at the end of the word list should be done")
	}
	p.RemainingLives = 0
	if !p.Done(5) {
		t.Error("player without lives should be done")
	}
}
