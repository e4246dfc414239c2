// SPDX-License-Identifier: MPL-2.0

package canonical

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// MaxUnpackSize bounds the total number of bytes Unpack will write.
const MaxUnpackSize int64 = 1 << 30

// ErrUnsafeEntry is returned for archive entries that would escape the
// destination or are not regular files.
var ErrUnsafeEntry = errors.New("unsafe archive entry")

// Unpack extracts a canonical archive into dst. Only regular files are
// accepted; absolute names and names escaping dst are rejected.
func Unpack(r io.Reader, dst string) error {
	tr := tar.NewReader(r)
	var total int64

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
		case tar.TypeDir:
			continue
		default:
			return fmt.Errorf("%s: %w: type %q", hdr.Name, ErrUnsafeEntry, hdr.Typeflag)
		}

		name := path.Clean(hdr.Name)
		if path.IsAbs(hdr.Name) || name == ".." || strings.HasPrefix(name, "../") || strings.Contains(hdr.Name, "\\") {
			return fmt.Errorf("%s: %w", hdr.Name, ErrUnsafeEntry)
		}

		total += hdr.Size
		if total > MaxUnpackSize {
			return fmt.Errorf("archive exceeds %d bytes", MaxUnpackSize)
		}

		if err := extractFile(tr, filepath.Join(dst, filepath.FromSlash(name)), hdr.Size); err != nil {
			return fmt.Errorf("failed to extract %s: %w", name, err)
		}
	}
}

func extractFile(r io.Reader, target string, size int64) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	_, err = io.CopyN(out, r, size)
	return err
}
