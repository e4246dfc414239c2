// SPDX-License-Identifier: MPL-2.0

package platform

import "strings"

// windowsReserved are device names Windows refuses as a file or directory
// name, with or without an extension.
var windowsReserved = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// IsWindowsReservedName reports whether name, a single path element, cannot
// be created on Windows. Only the part before the first dot counts, so
// "con.brd" and "Aux.tar.gz" are reserved while "console" is not.
func IsWindowsReservedName(name string) bool {
	base, _, _ := strings.Cut(name, ".")
	return windowsReserved[strings.ToUpper(strings.TrimRight(base, " "))]
}
