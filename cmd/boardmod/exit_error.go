// SPDX-License-Identifier: MPL-2.0

package cmd

import "fmt"

// Exit codes. Anything not listed exits with ExitFailure.
const (
	ExitFailure = 1
	// ExitIntegrity means a package did not match its board.sum hash.
	ExitIntegrity = 3
	// ExitOutOfDate means board.sum or the resolution needs an online,
	// unlocked run.
	ExitOutOfDate = 4
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}
