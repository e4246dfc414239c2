// SPDX-License-Identifier: MPL-2.0

package autodiscover

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/invowk/boardmod/pkg/manifest"
)

// DefaultExtensions are the source files scanned for import references.
var DefaultExtensions = []string{".brd", ".board"}

// importRef matches a quoted string shaped like host.tld/owner/name[/...].
var importRef = regexp.MustCompile(`["']((?:[a-z0-9-]+\.)+[a-z]{2,}(?:/[A-Za-z0-9._~@+-]+){2,})["']`)

// scanDir returns the distinct import references found in the package
// sources under dir, sorted. Hidden directories, the vendor directory and
// nested packages are not entered.
func scanDir(dir string, exts []string) ([]string, error) {
	seen := map[string]bool{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == dir {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") || name == "vendor" || manifest.Exists(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !slices.Contains(exts, filepath.Ext(p)) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		for _, m := range importRef.FindAllSubmatch(data, -1) {
			seen[string(m[1])] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	slices.Sort(refs)
	return refs, nil
}

// modulePrefixes lists the module paths that could provide ref, longest
// first: ref without a trailing file name, then each parent down to
// host/owner/name.
func modulePrefixes(ref string) []string {
	parts := strings.Split(ref, "/")
	if strings.Contains(parts[len(parts)-1], ".") && len(parts) > 3 {
		parts = parts[:len(parts)-1]
	}
	var out []string
	for n := len(parts); n >= 3; n-- {
		out = append(out, strings.Join(parts[:n], "/"))
	}
	return out
}
