// SPDX-License-Identifier: MPL-2.0

// Package issue holds the catalog of user-facing failure explanations and
// ActionableError, the error type that links a failure to its catalog entry
// and carries remediation hints for the CLI to print.
package issue
