// Package fsutil provides the small recursive file-discovery helper the
// config loader uses to gather *.hcl/*.conf files from a directory tree,
// adapted from the teacher's own fsutil package.
package fsutil

import (
	"os"
	"path/filepath"
	"sort"
)

// FindFilesByExtension walks root recursively and returns every regular
// file whose extension matches one of exts (case-sensitive, dot included,
// e.g. ".hcl"), sorted lexically for deterministic load order.
func FindFilesByExtension(root string, exts ...string) ([]string, error) {
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want[e] = true
	}

	var found []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if want[filepath.Ext(path)] {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
