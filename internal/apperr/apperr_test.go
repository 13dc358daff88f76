package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKindSentinel(t *testing.T) {
	err := New(KindDailyCapExceeded, "come back tomorrow")
	wrapped := fmt.Errorf("submit claim: %w", err)

	if !errors.Is(wrapped, ErrDailyCapExceeded) {
		t.Fatal("expected wrapped error to match ErrDailyCapExceeded")
	}
	if errors.Is(wrapped, ErrChain) {
		t.Fatal("daily cap error must not match ErrChain")
	}
	if got := KindOf(wrapped); got != KindDailyCapExceeded {
		t.Errorf("KindOf: got %q", got)
	}
	if got := MessageOf(wrapped); got != "come back tomorrow" {
		t.Errorf("MessageOf: got %q", got)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("relayer timeout")
	err := Wrap(KindChain, cause, "transfer failed")

	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if !errors.Is(err, ErrChain) {
		t.Fatal("expected ErrChain match")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatal("plain errors have no kind")
	}
}
