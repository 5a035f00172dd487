package fixture

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/coder/monacoharness/utils"
)

// Glob resolves patterns against base and returns the matching files as
// slash-separated paths relative to base, deduplicated, in the order they were
// first matched. A pattern starting with "!" removes earlier and later matches
// of the rest of the pattern. Directories never match. Unless dot is set, a
// file or directory whose name starts with a dot matches only where the
// pattern spells out that dot.
func Glob(base string, patterns []string, dot bool) ([]string, error) {
	fsys := os.DirFS(base)

	var include, exclude []string
	for _, p := range patterns {
		neg := strings.HasPrefix(p, "!")
		p = strings.TrimPrefix(p, "!")
		p = strings.TrimPrefix(p, "./")
		if path.IsAbs(p) {
			return nil, fmt.Errorf("pattern %q must be relative to %s", p, base)
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("pattern %q: %w", p, doublestar.ErrBadPattern)
		}
		if neg {
			exclude = append(exclude, p)
		} else {
			include = append(include, p)
		}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, p := range include {
		matches, err := doublestar.Glob(fsys, p, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; ok {
				continue
			}
			if !dot && hasDotSegment(m) && !explicitDots(strings.Split(p, "/"), strings.Split(m, "/")) {
				continue
			}
			if excluded(m, exclude) {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

func excluded(name string, exclude []string) bool {
	for _, p := range exclude {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func hasDotSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// explicitDots reports whether name matches pat with every dotted segment of
// name matched by a pattern segment starting with a dot. "**" never crosses a
// dotted segment.
func explicitDots(pat, name []string) bool {
	if len(pat) == 0 {
		return len(name) == 0
	}
	if pat[0] == "**" {
		if explicitDots(pat[1:], name) {
			return true
		}
		return len(name) > 0 && !strings.HasPrefix(name[0], ".") && explicitDots(pat, name[1:])
	}
	if len(name) == 0 {
		return false
	}
	if strings.HasPrefix(name[0], ".") && !strings.HasPrefix(pat[0], ".") {
		return false
	}
	if ok, _ := doublestar.Match(pat[0], name[0]); !ok {
		return false
	}
	return explicitDots(pat[1:], name[1:])
}

// readFiles loads every file under base concurrently, preserving order.
func readFiles(base string, names []string, limit int) ([]string, error) {
	fsys := os.DirFS(base)
	contents := make([]string, len(names))

	group := utils.NewConcurrentGroup(limit)
	for i, name := range names {
		group.Go(func() error {
			data, err := fs.ReadFile(fsys, name)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			contents[i] = string(data)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return contents, nil
}
