// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/boardmod/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/boardmod/config.cue on macOS, %APPDATA%\boardmod\config.cue
// on Windows) and validated against the embedded config_schema.cue. Values are layered as
// defaults, then the file, then BOARDMOD_* environment variables; command-line flags are
// applied by the caller on top of the returned Config.
package config
