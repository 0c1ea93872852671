package util

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// Scope is the set of paths covered by one analysis, as include and exclude globs
type Scope struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewScope compiles the include and exclude patterns. An empty include list
// covers every path.
func NewScope(include, exclude []string) (*Scope, error) {
	s := &Scope{}
	for _, p := range include {
		g, err := glob.Compile(normalizePattern(p), '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		s.include = append(s.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(normalizePattern(p), '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		s.exclude = append(s.exclude, g)
	}
	return s, nil
}

// normalizePattern turns a directory pattern like "src/" into "src/**"
func normalizePattern(p string) string {
	p = strings.TrimPrefix(strings.TrimSpace(p), "./")
	if p == "." || p == "" {
		return "**"
	}
	if strings.HasSuffix(p, "/") {
		return p + "**"
	}
	return p
}

// Includes reports whether p was analysed
func (s *Scope) Includes(p string) bool {
	if s == nil {
		return true
	}
	p = strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "./")
	for _, g := range s.exclude {
		if g.Match(p) {
			return false
		}
	}
	if len(s.include) == 0 {
		return true
	}
	for _, g := range s.include {
		if g.Match(p) {
			return true
		}
	}
	return false
}
