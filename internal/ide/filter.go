package ide

import (
	"path"
	"strings"

	"github.com/bolasblack/settingsync/internal/extension"
)

// FileFilter decides whether a config-relative path is synchronized.
type FileFilter interface {
	Include(relPath string) bool
}

// FilterPoint collects the filters a DirMediator consults. A path is tracked
// only if every registered filter includes it.
var FilterPoint = extension.NewPoint[FileFilter]("ide.fileFilters")

// FilterFunc adapts a function to FileFilter.
type FilterFunc func(relPath string) bool

func (f FilterFunc) Include(relPath string) bool { return f(relPath) }

// GlobFilter includes paths matching any Include pattern (all paths when
// Include is empty) and not matching any Exclude pattern.
//
// Patterns use path.Match syntax per segment, plus "**" for any number of
// segments. A pattern without a slash matches the base name at any depth.
type GlobFilter struct {
	Includes []string
	Excludes []string
}

func (g GlobFilter) Include(relPath string) bool {
	if len(g.Includes) > 0 && !matchAny(g.Includes, relPath) {
		return false
	}
	return !matchAny(g.Excludes, relPath)
}

func matchAny(patterns []string, p string) bool {
	for _, pat := range patterns {
		if MatchPattern(pat, p) {
			return true
		}
	}
	return false
}

// MatchPattern reports whether p matches pattern.
func MatchPattern(pattern, p string) bool {
	pattern = strings.Trim(pattern, "/")
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, path.Base(p))
		return ok
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(p, "/"))
}

func matchSegments(pats, parts []string) bool {
	for len(pats) > 0 {
		p := pats[0]
		pats = pats[1:]

		if p == "**" {
			if len(pats) == 0 {
				return true
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pats, parts[i:]) {
					return true
				}
			}
			return false
		}

		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(p, parts[0]); !ok {
			return false
		}
		parts = parts[1:]
	}
	// "dir/*" also covers everything below dir.
	return true
}
