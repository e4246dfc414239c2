// SPDX-License-Identifier: MPL-2.0

// Package cueutil parses CUE documents against an embedded schema.
//
// Parsing is always the same three steps: compile the schema, unify the
// user's document with one of its definitions, then validate and decode.
// Errors come back as ValidationErrors carrying the file and field path:
//
//	//go:embed config_schema.cue
//	var configSchema string
//
//	result, err := cueutil.ParseAndDecodeString[map[string]any](
//	    configSchema,
//	    data,
//	    "#Config",
//	    cueutil.WithConcrete(false),
//	    cueutil.WithFilename(path),
//	)
package cueutil
