package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMarkSurvivesWrapping(t *testing.T) {
	err := Parsing(errors.New("short buffer"), "decode snapshot")
	wrapped := fmt.Errorf("load state:\n%w", err)

	if !Is(wrapped, ErrParsing) {
		t.Fatal("wrapped error lost parsing kind")
	}

	if Is(wrapped, ErrFork) {
		t.Error("parsing error should not match fork")
	}

	if !strings.Contains(wrapped.Error(), "short buffer") {
		t.Errorf("cause missing from message: %q", wrapped.Error())
	}
}

func TestTransportKeepsCause(t *testing.T) {
	err := Transport(context.Canceled, "get chunk")

	if !Is(err, ErrTransport) {
		t.Error("missing transport kind")
	}

	if !Is(err, context.Canceled) {
		t.Error("missing original cause")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{nil, nil},
		{errors.New("plain"), nil},
		{New(ErrFork, "two tips"), ErrFork},
		{Mark(nil, ErrTimedOut), ErrTimedOut},
		{Cancelled(nil, "shutdown"), ErrCancelled},
		{Mark(New(ErrNotFound, "x"), ErrTransport), ErrNotFound},
	}

	for i, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("case %d: KindOf = %v, want %v", i, got, tt.want)
		}
	}
}

func TestWrapKeepsKind(t *testing.T) {
	if Wrap(nil, "noop") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	err := Wrap(New(ErrNotFound, "chunk"), "get chunk %d", 3)

	if KindOf(err) != ErrNotFound {
		t.Errorf("KindOf = %v, want ErrNotFound", KindOf(err))
	}

	if !strings.Contains(err.Error(), "get chunk 3") {
		t.Errorf("context missing from message: %q", err.Error())
	}
}

func TestByName(t *testing.T) {
	if got := ByName(ErrFork.Error()); got != ErrFork {
		t.Errorf("ByName(%q) = %v, want ErrFork", ErrFork.Error(), got)
	}

	if got := ByName("no such kind"); got != nil {
		t.Errorf("unknown name: got %v, want nil", got)
	}
}
