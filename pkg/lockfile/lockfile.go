// SPDX-License-Identifier: MPL-2.0

// Package lockfile maintains board.sum, the workspace ledger of verified
// content and manifest hashes.
//
// Each dependency version contributes two lines, one for the canonical
// content hash and one for the manifest hash; assets contribute only the
// first. The ledger is append-only during resolution: new entries are added,
// matching entries are confirmed and a differing hash is an integrity error.
// Entries only disappear through Prune, an explicit maintenance operation.
package lockfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/invowk/boardmod/pkg/canonical"
	"github.com/invowk/boardmod/pkg/fspath"
	"github.com/invowk/boardmod/pkg/modver"
)

// FileName is the lockfile name at the workspace root.
const FileName = "board.sum"

const manifestSuffix = "/manifest"

var (
	// ErrIntegrity is the sentinel error wrapped by IntegrityError.
	ErrIntegrity = errors.New("checksum mismatch")
	// ErrMissingEntry is the sentinel error wrapped by MissingEntryError.
	ErrMissingEntry = errors.New("missing lockfile entry")
	// ErrMalformed is returned for lines that do not follow the ledger format.
	ErrMalformed = errors.New("malformed lockfile line")
)

type (
	// Entry is the ledger record of one (module path, version).
	// ManifestHash is empty for assets.
	Entry struct {
		Path         string
		Version      string
		Hash         string
		ManifestHash string
	}

	// IntegrityError reports a hash that differs from the recorded one.
	// It is never resolved by re-pinning: the recorded value wins until the
	// entry is removed explicitly.
	IntegrityError struct {
		Path     string
		Version  string
		Kind     string
		Expected string
		Computed string
	}

	// MissingEntryError is returned by Verify when no entry exists.
	MissingEntryError struct {
		Path    string
		Version string
	}

	// File is an in-memory lockfile.
	File struct {
		path    string
		content map[key]string
		man     map[key]string
		dirty   bool
	}

	key struct {
		path    string
		version string
	}
)

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s for %s@%s (%s): lockfile has %s, computed %s; the tag may have moved or the content was tampered with",
		ErrIntegrity, e.Path, e.Version, e.Kind, e.Expected, e.Computed)
}

// Unwrap returns ErrIntegrity for errors.Is() compatibility.
func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// Error implements the error interface.
func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("%s for %s@%s", ErrMissingEntry, e.Path, e.Version)
}

// Unwrap returns ErrMissingEntry for errors.Is() compatibility.
func (e *MissingEntryError) Unwrap() error { return ErrMissingEntry }

// New returns an empty lockfile that will be saved to path.
func New(path string) *File {
	return &File{path: path, content: map[key]string{}, man: map[key]string{}}
}

// Load reads the lockfile at path. A missing file yields an empty lockfile.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(path), nil
		}
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}
	f, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Parse decodes lockfile bytes. Blank lines and # comments are ignored.
func Parse(data []byte, path string) (*File, error) {
	f := New(path)
	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || !strings.HasPrefix(fields[2], canonical.HashPrefix) {
			return nil, fmt.Errorf("%s:%d: %w: %q", path, lineNo, ErrMalformed, line)
		}
		modPath, version, hash := fields[0], fields[1], fields[2]
		if v, ok := strings.CutSuffix(version, manifestSuffix); ok {
			f.man[key{modPath, v}] = hash
			continue
		}
		f.content[key{modPath, version}] = hash
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}
	return f, nil
}

// Path returns the file the lockfile is saved to.
func (f *File) Path() string {
	return f.path
}

// Lookup returns the entry recorded for path at version.
func (f *File) Lookup(path, version string) (Entry, bool) {
	k := key{path, version}
	h, ok := f.content[k]
	if !ok {
		return Entry{}, false
	}
	return Entry{Path: path, Version: version, Hash: h, ManifestHash: f.man[k]}, true
}

// Versions returns every version recorded for path, in ascending order.
func (f *File) Versions(path string) []string {
	var out []string
	for k := range f.content {
		if k.path == path {
			out = append(out, k.version)
		}
	}
	slices.SortFunc(out, compareVersions)
	return out
}

// Paths returns every module path with at least one entry, sorted.
func (f *File) Paths() []string {
	seen := map[string]bool{}
	var out []string
	for k := range f.content {
		if !seen[k.path] {
			seen[k.path] = true
			out = append(out, k.path)
		}
	}
	slices.Sort(out)
	return out
}

// Verify compares e against the recorded entry without modifying the
// lockfile. It fails with MissingEntryError when nothing is recorded.
func (f *File) Verify(e Entry) error {
	k := key{e.Path, e.Version}
	if _, ok := f.content[k]; !ok {
		return &MissingEntryError{Path: e.Path, Version: e.Version}
	}
	return f.check(e)
}

// Add records e. An existing entry with different hashes is an integrity
// error and is left untouched. It reports whether anything was written.
func (f *File) Add(e Entry) (bool, error) {
	if err := f.check(e); err != nil {
		return false, err
	}
	k := key{e.Path, e.Version}
	added := false
	if _, ok := f.content[k]; !ok {
		f.content[k] = e.Hash
		added = true
	}
	if e.ManifestHash != "" {
		if _, ok := f.man[k]; !ok {
			f.man[k] = e.ManifestHash
			added = true
		}
	}
	if added {
		f.dirty = true
	}
	return added, nil
}

func (f *File) check(e Entry) error {
	k := key{e.Path, e.Version}
	if h, ok := f.content[k]; ok && h != e.Hash {
		return &IntegrityError{Path: e.Path, Version: e.Version, Kind: "content", Expected: h, Computed: e.Hash}
	}
	if h, ok := f.man[k]; ok && e.ManifestHash != "" && h != e.ManifestHash {
		return &IntegrityError{Path: e.Path, Version: e.Version, Kind: "manifest", Expected: h, Computed: e.ManifestHash}
	}
	return nil
}

// Prune removes every entry for which keep returns false and returns the
// removed lines.
func (f *File) Prune(keep func(path, version string) bool) []string {
	var removed []string
	for _, e := range f.Entries() {
		if keep(e.Path, e.Version) {
			continue
		}
		removed = append(removed, e.lines()...)
		k := key{e.Path, e.Version}
		delete(f.content, k)
		delete(f.man, k)
		f.dirty = true
	}
	return removed
}

// Entries returns all entries in ledger order. A manifest line recorded
// without its content line yields an entry with an empty Hash, so rendering
// keeps it.
func (f *File) Entries() []Entry {
	out := make([]Entry, 0, len(f.content))
	for k, h := range f.content {
		out = append(out, Entry{Path: k.path, Version: k.version, Hash: h, ManifestHash: f.man[k]})
	}
	for k, mh := range f.man {
		if _, ok := f.content[k]; !ok {
			out = append(out, Entry{Path: k.path, Version: k.version, ManifestHash: mh})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return compareVersions(a.Version, b.Version)
	})
	return out
}

// Bytes renders the lockfile.
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	for _, e := range f.Entries() {
		for _, line := range e.lines() {
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Dirty reports whether the lockfile changed since it was loaded.
func (f *File) Dirty() bool {
	return f.dirty
}

// Save writes the lockfile atomically when it changed.
func (f *File) Save() error {
	if !f.dirty && fspath.Exists(f.path) {
		return nil
	}
	if err := fspath.AtomicWriteFile(f.path, f.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to save lockfile: %w", err)
	}
	f.dirty = false
	return nil
}

func (e Entry) lines() []string {
	var out []string
	if e.Hash != "" {
		out = append(out, fmt.Sprintf("%s %s %s", e.Path, e.Version, e.Hash))
	}
	if e.ManifestHash != "" {
		out = append(out, fmt.Sprintf("%s %s%s %s", e.Path, e.Version, manifestSuffix, e.ManifestHash))
	}
	return out
}

// compareVersions orders semver versions by precedence and falls back to
// byte order for opaque asset refs.
func compareVersions(a, b string) int {
	if modver.IsValid(a) && modver.IsValid(b) {
		if c := modver.Compare(a, b); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}
