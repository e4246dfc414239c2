// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// GitRepo builds throwaway git remotes for fetch tests; it requires the git
// binary and skips the test without it.
package testutil
