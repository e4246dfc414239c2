// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/modver"
)

const (
	dependenciesTable = "dependencies"
	assetsTable       = "assets"
)

// AddDependency appends a dependency entry to the [dependencies] table of the
// manifest at file, creating the table when missing. Comments and layout of
// the rest of the file are preserved. Branch-only specs are rejected: they
// must be pinned to a commit before being written.
func AddDependency(file string, spec DependencySpec) error {
	if spec.Kind == SpecBranch {
		return fmt.Errorf("refusing to write branch-only dependency %s; pin it to a rev first", spec.Path)
	}
	return addEntry(file, dependenciesTable, spec.Path, FormatSpec(spec))
}

// AddAsset appends an asset entry to the [assets] table of the manifest at file.
func AddAsset(file string, asset AssetSpec) error {
	if err := CheckAssetRef(asset.Ref); err != nil {
		return &ConfigError{File: file, Field: fmt.Sprintf("assets.%q", asset.Path), Err: err}
	}
	return addEntry(file, assetsTable, asset.Path, strconv.Quote(asset.Ref))
}

// ExactSpec builds a version spec pinned to v.
func ExactSpec(path, v string) (DependencySpec, error) {
	r, err := modver.ParseRange(modver.Trim(v))
	if err != nil {
		return DependencySpec{}, err
	}
	return DependencySpec{Path: path, Kind: SpecVersion, Range: r}, nil
}

// FormatSpec renders the TOML value of a dependency spec.
func FormatSpec(spec DependencySpec) string {
	switch spec.Kind {
	case SpecBranch:
		return fmt.Sprintf("{ branch = %s }", strconv.Quote(spec.Branch))
	case SpecRev:
		return fmt.Sprintf("{ rev = %s }", strconv.Quote(spec.Rev))
	case SpecPath:
		return fmt.Sprintf("{ path = %s }", strconv.Quote(spec.Local))
	default:
		return strconv.Quote(spec.Range.String())
	}
}

func addEntry(file, table, key, value string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	lines := strings.Split(string(data), "\n")
	entry := fmt.Sprintf("%s = %s", strconv.Quote(key), value)

	start, end, found := findTable(lines, table)
	if found {
		for i := start + 1; i < end; i++ {
			if entryKey(lines[i]) == key {
				return fmt.Errorf("%s.%q: %w", table, key, ErrDuplicateEntry)
			}
		}
		// Insert after the last non-blank line of the table.
		at := end
		for at > start+1 && strings.TrimSpace(lines[at-1]) == "" {
			at--
		}
		newLines := make([]string, 0, len(lines)+1)
		newLines = append(newLines, lines[:at]...)
		newLines = append(newLines, entry)
		newLines = append(newLines, lines[at:]...)
		lines = newLines
	} else {
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, "["+table+"]", entry, "")
	}

	out := []byte(strings.Join(lines, "\n"))
	if _, err := Parse(out, file); err != nil {
		return fmt.Errorf("edit would produce an invalid manifest: %w", err)
	}
	return fspath.AtomicWriteFile(file, out, 0o644)
}

// findTable returns the header line index of [name] and the index of the
// first line after the table.
func findTable(lines []string, name string) (start, end int, found bool) {
	header := "[" + name + "]"
	for i, line := range lines {
		if stripComment(line) != header {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "[") {
				return i, j, true
			}
		}
		return i, len(lines), true
	}
	return 0, 0, false
}

func entryKey(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	k, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}
	k = strings.TrimSpace(k)
	if unquoted, err := strconv.Unquote(k); err == nil {
		return unquoted
	}
	return strings.Trim(k, "'")
}

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}
