// SPDX-License-Identifier: MPL-2.0

package platform

// runtime.GOOS values branched on outside build tags.
const (
	Windows = "windows"
	Darwin  = "darwin"
)
