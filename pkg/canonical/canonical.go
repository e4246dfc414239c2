// SPDX-License-Identifier: MPL-2.0

// Package canonical produces the canonical archive of a package directory
// and the content hash derived from it.
//
// The archive is a tar stream whose bytes depend only on the package's file
// names and contents: entries are regular files sorted by their NFC-normalized
// slash path, every header carries the same mode, owner and timestamp, and
// ignored files, VCS metadata, vendored trees, cache markers and nested
// packages are left out. Hashes are computed by streaming the archive into
// SHA-256, never buffering it.
package canonical

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"golang.org/x/text/unicode/norm"

	"github.com/invowk/boardmod/pkg/manifest"
	"github.com/invowk/boardmod/pkg/platform"
)

const (
	// CacheMarker marks a directory owned by the content cache. It is never
	// part of a package and directories containing it are skipped by
	// workspace discovery.
	CacheMarker = ".boardmod-cache"

	// HashPrefix tags the hash algorithm: SHA-256 over the canonical archive.
	HashPrefix = "h1:"

	fileMode = 0o644
)

// epoch is the modification time written for every entry.
var epoch = time.Unix(0, 0).UTC()

var (
	// ErrDuplicateName is returned when two files normalize to the same name.
	ErrDuplicateName = errors.New("file names collide after Unicode normalization")
	// ErrReservedName is returned for a file that could not be materialized
	// on Windows.
	ErrReservedName = errors.New("file name is reserved on Windows")
)

// File is one entry of a canonical archive.
type File struct {
	// Name is the NFC-normalized slash path inside the package.
	Name string
	// Path is the file's location on disk.
	Path string
}

// Files lists the files of the package rooted at dir in canonical order.
func Files(dir string) ([]File, error) {
	matcher, err := ignoreMatcher(dir)
	if err != nil {
		return nil, err
	}

	var files []File
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		segments := strings.Split(rel, "/")

		if d.IsDir() {
			if excludedDir(p, rel, d.Name()) || matcher.Match(segments, true) || manifest.Exists(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || d.Name() == CacheMarker || matcher.Match(segments, false) {
			return nil
		}
		for _, seg := range segments {
			if platform.IsWindowsReservedName(seg) {
				return fmt.Errorf("%s: %w", rel, ErrReservedName)
			}
		}
		files = append(files, File{Name: norm.NFC.String(rel), Path: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list package files in %s: %w", dir, err)
	}

	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Name, b.Name) })
	for i := 1; i < len(files); i++ {
		if files[i].Name == files[i-1].Name {
			return nil, fmt.Errorf("%s: %w", files[i].Name, ErrDuplicateName)
		}
	}
	return files, nil
}

// Archive writes the canonical tar stream of dir to w.
func Archive(dir string, w io.Writer) (err error) {
	files, err := Files(dir)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	defer func() {
		if closeErr := tw.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to finalize archive: %w", closeErr)
		}
	}()

	for _, f := range files {
		if err := writeEntry(tw, f); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(tw *tar.Writer, f File) error {
	in, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     f.Name,
		Size:     info.Size(),
		Mode:     fileMode,
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", f.Name, err)
	}
	if _, err := io.CopyN(tw, in, info.Size()); err != nil {
		return fmt.Errorf("failed to archive %s: %w", f.Name, err)
	}
	return nil
}

// Hash returns the content hash of the package rooted at dir.
func Hash(dir string) (string, error) {
	h := sha256.New()
	if err := Archive(dir, h); err != nil {
		return "", err
	}
	return HashPrefix + base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// HashManifest returns the hash of the package's board.toml alone.
func HashManifest(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifest.FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", dir, manifest.ErrNotFound)
		}
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes hashes a byte slice with the same encoding as Hash.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + base64.StdEncoding.EncodeToString(sum[:])
}

// excludedDir reports directories that are never package content: VCS
// metadata, the vendor tree and directories owned by the content cache.
func excludedDir(full, rel, name string) bool {
	switch {
	case name == ".git", name == ".hg", name == ".svn":
		return true
	case rel == "vendor":
		return true
	}
	_, err := os.Stat(filepath.Join(full, CacheMarker))
	return err == nil
}

func ignoreMatcher(dir string) (gitignore.Matcher, error) {
	patterns, err := gitignore.ReadPatterns(osfs.New(dir), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore rules in %s: %w", dir, err)
	}
	return gitignore.NewMatcher(patterns), nil
}
