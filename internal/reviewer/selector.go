package reviewer

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// SelectFiles walks the mirror root and returns up to max relative paths
// matching any of the include patterns. Patterns match against the file's
// base name and against its slash-separated relative path. The .git
// directory is never descended into. The result is sorted for stable
// selection; within a cycle no processing order is guaranteed.
func SelectFiles(root string, include []string, max int) ([]string, error) {
	var matched []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if matchesAny(filepath.ToSlash(rel), include) {
			matched = append(matched, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(matched)
	if max > 0 && len(matched) > max {
		matched = matched[:max]
	}
	return matched, nil
}

func matchesAny(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
		if strings.ContainsRune(pat, '/') {
			if ok, _ := path.Match(pat, rel); ok {
				return true
			}
		}
	}
	return false
}
