// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidManifest is the sentinel error wrapped by ConfigError.
	ErrInvalidManifest = errors.New("invalid manifest")
	// ErrNotFound is returned when a directory has no manifest file.
	ErrNotFound = errors.New("manifest not found")
	// ErrDuplicateEntry is returned by the editor when the key already exists.
	ErrDuplicateEntry = errors.New("entry already exists")
	// ErrAssetHasManifest is returned when an asset turns out to be a package.
	ErrAssetHasManifest = errors.New("asset carries a board.toml; declare it under [dependencies] instead")
)

// ConfigError reports a manifest problem detected before any network access:
// malformed TOML, an unparseable version requirement, a patch table outside
// the workspace root and similar. It wraps ErrInvalidManifest.
type ConfigError struct {
	File  string
	Line  int
	Field string
	Err   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", loc, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", loc, e.Err)
}

// Unwrap returns both the sentinel and the underlying cause.
func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidManifest, e.Err}
}

func configErr(file, field string, format string, args ...any) *ConfigError {
	return &ConfigError{File: file, Field: field, Err: fmt.Errorf(format, args...)}
}
