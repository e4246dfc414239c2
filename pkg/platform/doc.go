// SPDX-License-Identifier: MPL-2.0

// Package platform provides cross-platform compatibility utilities: OS name
// constants and the Windows reserved device names that no portable package
// may use as a file name.
package platform
