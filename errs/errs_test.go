package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesFieldAndCause(t *testing.T) {
	err := New(
		"policy/solver",
		CodeInvalid,
		WithMessage("tick must be positive"),
		WithField("tick"),
		WithValue("-0.01"),
		WithCause(errors.New("config rejected")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=policy/solver") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=invalid_input") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "field=tick") {
		t.Fatalf("expected field marker in error string: %s", out)
	}
	if !strings.Contains(out, "value=\"-0.01\"") {
		t.Fatalf("expected value in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"config rejected\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := New("report", CodeIO, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match wrapped cause")
	}
}

func TestEmptyComponentAndCodeFallBackToUnknown(t *testing.T) {
	err := New("  ", Code(""))
	out := err.Error()
	if !strings.Contains(out, "component=unknown") || !strings.Contains(out, "code=unknown") {
		t.Fatalf("expected unknown fallbacks, got %s", out)
	}
}

func TestInvalidHelper(t *testing.T) {
	err := Invalid("lattice", "volumeStep", "must be positive")
	if err.Code != CodeInvalid || err.Field != "volumeStep" {
		t.Fatalf("unexpected envelope: %+v", err)
	}
}
