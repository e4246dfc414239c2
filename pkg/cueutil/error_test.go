// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFormatError(t *testing.T) {
	t.Parallel()

	t.Run("nil error returns nil", func(t *testing.T) {
		t.Parallel()

		if err := FormatError(nil, "test.cue"); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("non-CUE error is wrapped with filepath", func(t *testing.T) {
		t.Parallel()

		originalErr := errors.New("some error")
		err := FormatError(fmt.Errorf("decode: %w", originalErr), "test.cue")
		if !errors.Is(err, originalErr) {
			t.Errorf("error should wrap the original, got: %v", err)
		}
		if !strings.HasPrefix(err.Error(), "test.cue: ") {
			t.Errorf("error should start with the filepath, got: %v", err)
		}
	})

	t.Run("CUE errors carry field paths", func(t *testing.T) {
		t.Parallel()

		_, err := ParseAndDecodeString[retryConfig](retrySchema, []byte(`max_attempts: 0`), "#Retry", WithFilename("config.cue"))
		var verrs ValidationErrors
		if !errors.As(err, &verrs) {
			t.Fatalf("error = %T %v, want ValidationErrors", err, err)
		}
		if verrs[0].FilePath != "config.cue" || verrs[0].CUEPath != "max_attempts" {
			t.Errorf("first error = %+v", verrs[0])
		}
		if !strings.HasPrefix(err.Error(), "config.cue: max_attempts: ") || strings.Contains(err.Error(), "#Retry") {
			t.Errorf("Error() = %q", err.Error())
		}
	})
}

func TestFormatPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     []string
		expected string
	}{
		{"empty path", []string{}, ""},
		{"single element", []string{"proxy"}, "proxy"},
		{"nested path", []string{"retry", "max_attempts"}, "retry.max_attempts"},
		{"array index", []string{"discover", "extensions", "1"}, "discover.extensions[1]"},
		{"nested arrays", []string{"items", "0", "values", "1"}, "items[0].values[1]"},
		{"leading number", []string{"0", "x"}, "0.x"},
		{"definition dropped", []string{"#Retry", "max_attempts"}, "max_attempts"},
		{"nested definitions dropped", []string{"#Config", "retry", "#RetryConfig", "max_attempts"}, "retry.max_attempts"},
		{"index after definition", []string{"#List", "0"}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if result := formatPath(tt.path); result != tt.expected {
				t.Errorf("formatPath(%v) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestCheckFileSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"empty", 0, false},
		{"within limit", 11, false},
		{"at exact limit", 100, false},
		{"exceeding limit", 101, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := CheckFileSize(make([]byte, tt.size), 100, "test.cue")
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckFileSize(%d) = %v, wantErr %v", tt.size, err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrFileTooLarge) {
				t.Errorf("error should wrap ErrFileTooLarge, got: %v", err)
			}
			if !strings.Contains(err.Error(), "test.cue") || !strings.Contains(err.Error(), "101") {
				t.Errorf("error should name the file and size, got: %v", err)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	one := ValidationErrors{{FilePath: "config.cue", CUEPath: "proxy", Message: "expected string"}}
	if got, want := one.Error(), "config.cue: proxy: expected string"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	bare := &ValidationError{FilePath: "config.cue", Message: "syntax error"}
	if got, want := bare.Error(), "config.cue: syntax error"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	two := append(one, bare)
	if got := two.Error(); !strings.Contains(got, "validation failed:\n  proxy: expected string\n  syntax error") {
		t.Errorf("multi-error output = %q", got)
	}
}
