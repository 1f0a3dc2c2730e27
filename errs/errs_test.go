package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesIdentityAndFields(t *testing.T) {
	err := New(
		"matcher/win",
		CodeNotFound,
		WithAuction("auction-17", "spot-2"),
		WithAccount("acct:campaign:42"),
		WithMessage("no pending auction for win"),
		WithField("price", "1.50"),
		WithCause(errors.New("ledger miss")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=matcher/win") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=not_found") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "auction=auction-17") || !strings.Contains(out, "spot=spot-2") {
		t.Fatalf("expected auction identity in error string: %s", out)
	}
	if !strings.Contains(out, "account=acct:campaign:42") {
		t.Fatalf("expected account in error string: %s", out)
	}
	if !strings.Contains(out, `fields=price="1.50"`) {
		t.Fatalf("expected metadata fields in error string: %s", out)
	}
	if !strings.Contains(out, `cause="ledger miss"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestHasCodeWalksWrappedChain(t *testing.T) {
	inner := New("ledger", CodeDuplicate, WithAuction("a1", "s1"))
	wrapped := fmt.Errorf("insert rejected: %w", inner)

	if !HasCode(wrapped, CodeDuplicate) {
		t.Fatalf("expected duplicate code through wrap: %v", wrapped)
	}
	if HasCode(wrapped, CodeQueueFull) {
		t.Fatalf("unexpected queue_full code match: %v", wrapped)
	}
	if HasCode(nil, CodeDuplicate) {
		t.Fatal("nil error should carry no code")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("settle refused")
	err := New("router", CodeCollaborator, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach cause through %v", err)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
