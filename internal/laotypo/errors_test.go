package laotypo

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("disk on fire")

	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantMsg  string
		sentinel error
	}{
		{"not found", Errorf(KindNotFound, "session %s not found", "ABC123"), KindNotFound, "session ABC123 not found", ErrNotFound},
		{"wrapped", fmt.Errorf("joining: %w", Errorf(KindResourceExhausted, "session is full")), KindResourceExhausted, "session is full", ErrResourceExhausted},
		{"internal", Internal("creating session", cause), KindInternal, "creating session", ErrInternal},
		{"plain error", cause, KindInternal, "internal error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.wantKind {
				t.Errorf("KindOf = %q, want %q", got, tt.wantKind)
			}
			if got := PublicMessage(tt.err); got != tt.wantMsg {
				t.Errorf("PublicMessage = %q, want %q", got, tt.wantMsg)
			}
			if tt.sentinel != nil && !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
		})
	}
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal("joining session", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("internal error must not match ErrNotFound")
	}
}
