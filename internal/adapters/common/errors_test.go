package common

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestWrapTransient(t *testing.T) {
	wrapped := WrapTransient(context.DeadlineExceeded)

	if !errors.Is(wrapped, ErrTransient) {
		t.Fatalf("expected wrapped error to be transient: %v", wrapped)
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped error to keep its cause")
	}
	if IsPermanent(wrapped) {
		t.Fatalf("transient error reported as permanent")
	}
}

func TestWrapPermanent(t *testing.T) {
	base := errors.New("invalid recipient")
	wrapped := WrapPermanent(base)

	if !IsPermanent(wrapped) {
		t.Fatalf("expected wrapped error to be permanent: %v", wrapped)
	}
	if !strings.Contains(wrapped.Error(), base.Error()) {
		t.Fatalf("expected wrapped error message to include original message")
	}
}

func TestWrapNil(t *testing.T) {
	if !errors.Is(WrapTransient(nil), ErrTransient) {
		t.Fatalf("expected nil transient wrap to fall back to ErrTransient")
	}
	if !IsPermanent(WrapPermanent(nil)) {
		t.Fatalf("expected nil permanent wrap to fall back to ErrPermanent")
	}
}
