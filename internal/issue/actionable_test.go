// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableErrorMessage(t *testing.T) {
	t.Parallel()

	notFound := errors.New("no such file")
	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{"operation only", &ActionableError{Operation: "load manifest"}, "failed to load manifest"},
		{"with resource", &ActionableError{Operation: "load manifest", Resource: "board.toml"}, "failed to load manifest: board.toml"},
		{"with cause", &ActionableError{Operation: "read board.sum", Cause: notFound}, "failed to read board.sum: no such file"},
		{
			"full",
			&ActionableError{Operation: "load manifest", Resource: "boards/app/board.toml", Cause: notFound},
			"failed to load manifest: boards/app/board.toml: no such file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("version not found")
	err := fmt.Errorf("resolve: %w", &ActionableError{Operation: "fetch", Cause: cause})
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through the actionable error")
	}
	if (&ActionableError{Operation: "fetch"}).Unwrap() != nil {
		t.Error("Unwrap() without a cause should be nil")
	}
}

func TestActionableErrorFormat(t *testing.T) {
	t.Parallel()

	err := &ActionableError{
		Operation:   "verify github.com/acme/core v1.2.0",
		Suggestions: []string{"Delete the cache entry", "Re-run resolve"},
		Cause:       fmt.Errorf("hash h1:abc: %w", errors.New("mismatch")),
	}

	plain := err.Format(false)
	for _, want := range []string{"failed to verify github.com/acme/core v1.2.0", "\n\n  • Delete the cache entry", "\n  • Re-run resolve"} {
		if !strings.Contains(plain, want) {
			t.Errorf("Format(false) missing %q:\n%s", want, plain)
		}
	}
	if strings.Contains(plain, "Error chain:") {
		t.Errorf("Format(false) should omit the chain:\n%s", plain)
	}

	verbose := err.Format(true)
	for _, want := range []string{"Error chain:", "1. hash h1:abc: mismatch", "2. mismatch"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("Format(true) missing %q:\n%s", want, verbose)
		}
	}

	bare := (&ActionableError{Operation: "lock"}).Format(true)
	if bare != "failed to lock" {
		t.Errorf("Format(true) of a bare error = %q", bare)
	}
}

func TestErrorContextBuild(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	ae := NewErrorContext().
		WithOperation("vendor packages").
		WithResource("vendor/").
		WithSuggestion("Close other boardmod runs").
		WithIssue(VendorBusyId).
		Wrap(cause).
		Build()
	if ae == nil {
		t.Fatal("Build() = nil")
	}
	if ae.Operation != "vendor packages" || ae.Resource != "vendor/" || ae.Issue != VendorBusyId || !errors.Is(ae, cause) {
		t.Errorf("Build() = %+v", ae)
	}
	if !ae.HasSuggestions() || len(ae.Suggestions) != 1 {
		t.Errorf("Suggestions = %v", ae.Suggestions)
	}

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without an operation should be nil")
	}
	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() without an operation = %v, want untyped nil", err)
	}
}

func TestErrorContextReuse(t *testing.T) {
	t.Parallel()

	ctx := NewErrorContext().WithOperation("load manifest").WithSuggestion("Check TOML syntax")
	first := ctx.Build()
	second := ctx.WithSuggestion("Run boardmod discover").Build()

	if len(first.Suggestions) != 1 {
		t.Errorf("earlier build changed after reuse: %v", first.Suggestions)
	}
	if len(second.Suggestions) != 2 || second.Operation != first.Operation {
		t.Errorf("second build = %+v", second)
	}
}

func TestFor(t *testing.T) {
	t.Parallel()

	inner := NewErrorContext().
		WithOperation("verify board.sum").
		WithIssue(IntegrityMismatchId).
		Wrap(errors.New("checksum mismatch")).
		BuildError()
	outer := NewErrorContext().WithOperation("resolve workspace").Wrap(fmt.Errorf("module x: %w", inner)).BuildError()

	if got := For(outer); got == nil || got.Id() != IntegrityMismatchId {
		t.Errorf("For(outer) = %v, want the integrity mismatch entry", got)
	}

	tagged := NewErrorContext().WithOperation("load manifest").WithIssue(ManifestInvalidId).Wrap(inner).BuildError()
	if got := For(tagged); got == nil || got.Id() != ManifestInvalidId {
		t.Errorf("For(tagged) = %v, want the outermost entry", got)
	}

	if For(errors.New("plain")) != nil {
		t.Error("For(plain error) should be nil")
	}
	if For(nil) != nil {
		t.Error("For(nil) should be nil")
	}
}
