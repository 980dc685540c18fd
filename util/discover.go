package util

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var fragmentName = regexp.MustCompile(`^Data(\d{4})$`)

// FragmentDir returns the directory that holds the fragments of the
// container whose content header is at headerPath.
func FragmentDir(headerPath string) string {
	return headerPath + ".data"
}

// DiscoverFragments returns the Data#### files in dir in index order.
// The indices must run from 0000 without gaps.
func DiscoverFragments(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("fragment directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	type indexed struct {
		index int
		path  string
	}
	var found []indexed
	for _, e := range entries {
		m := fragmentName.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		i, _ := strconv.Atoi(m[1])
		found = append(found, indexed{i, filepath.Join(dir, e.Name())})
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFragments, dir)
	}
	sort.Slice(found, func(a, b int) bool { return found[a].index < found[b].index })

	paths := make([]string, len(found))
	for i, f := range found {
		if f.index != i {
			return nil, fmt.Errorf("%w: expected Data%04d, found Data%04d", ErrFragmentGap, i, f.index)
		}
		paths[i] = f.path
	}
	return paths, nil
}
