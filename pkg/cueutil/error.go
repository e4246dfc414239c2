// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrFileTooLarge is returned when a CUE file exceeds the size limit.
var ErrFileTooLarge = errors.New("file exceeds the size limit")

// ValidationError is one CUE error located by file and field path.
type ValidationError struct {
	// FilePath is the file being validated.
	FilePath string

	// CUEPath is the field path of the invalid value (e.g., "retry.max_attempts").
	CUEPath string

	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.CUEPath != "" {
		return fmt.Sprintf("%s: %s: %s", e.FilePath, e.CUEPath, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// ValidationErrors collects every error CUE reported for one file.
type ValidationErrors []*ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return v[0].Error()
	}
	lines := make([]string, 0, len(v))
	for _, e := range v {
		if e.CUEPath != "" {
			lines = append(lines, e.CUEPath+": "+e.Message)
		} else {
			lines = append(lines, e.Message)
		}
	}
	return fmt.Sprintf("%s: validation failed:\n  %s", v[0].FilePath, strings.Join(lines, "\n  "))
}

// FormatError converts a CUE error into ValidationErrors with field paths
// such as discover.aliases["acme.dev/x"] or list[2].name.
// Errors that did not come from CUE are wrapped with the file path.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	// cueerrors.Errors promotes any error, so check the chain first.
	var cueErr cueerrors.Error
	if !errors.As(err, &cueErr) {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	cueErrs := cueerrors.Errors(err)
	if len(cueErrs) == 0 {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	out := make(ValidationErrors, 0, len(cueErrs))
	for _, e := range cueErrs {
		path := formatPath(e.Path())
		msg := e.Error()
		// CUE sometimes repeats the path, definitions included, in the message.
		for _, prefix := range []string{strings.Join(e.Path(), "."), path} {
			if prefix != "" && strings.HasPrefix(msg, prefix+":") {
				msg = strings.TrimSpace(strings.TrimPrefix(msg, prefix+":"))
			}
		}
		out = append(out, &ValidationError{FilePath: filePath, CUEPath: path, Message: msg})
	}
	return out
}

// formatPath renders CUE path elements as a field path, turning numeric
// elements into indexes: ["list", "0", "name"] becomes "list[0].name".
// Definition names (#Config) are schema scaffolding, not fields the user
// wrote, and are left out.
func formatPath(path []string) string {
	var b strings.Builder
	for _, part := range path {
		if strings.HasPrefix(part, "#") {
			continue
		}
		if b.Len() > 0 && isIndex(part) {
			b.WriteString("[" + part + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize fails when data is larger than maxSize bytes.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: %d bytes, maximum %d: %w", filename, len(data), maxSize, ErrFileTooLarge)
	}
	return nil
}
