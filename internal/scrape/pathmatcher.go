package scrape

import (
	"net/url"
	"path"
	"strings"
)

// Venue sites rarely carry directory facts under these paths.
var defaultExcludePatterns = []string{
	"/blog/*",
	"/news/*",
	"/careers/*",
	"/jobs/*",
	"/cart/*",
	"/checkout/*",
	"/account/*",
	"/wp-admin/*",
	"/wp-login.php",
	"/*.pdf",
}

type pathRule struct {
	raw string
	// dir is set for "/x/*" rules, which also match "/x" and anything below it.
	dir  string
	glob string
}

// PathMatcher rejects URLs whose path matches an exclude rule. Rules are
// path.Match globs compared case-insensitively.
type PathMatcher struct {
	rules []pathRule
}

// NewPathMatcher compiles patterns such as "/blog/*" or "/*.pdf". An empty
// list selects the default excludes.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	m := &PathMatcher{rules: make([]pathRule, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r := pathRule{raw: p, glob: strings.ToLower(p)}
		if dir, ok := strings.CutSuffix(r.glob, "/*"); ok && !strings.ContainsAny(dir, "*?[") {
			r.dir = dir
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// Patterns returns the rules as given.
func (m *PathMatcher) Patterns() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.raw
	}
	return out
}

// IsExcluded reports whether rawURL should be skipped. Unparseable URLs are
// always excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, r := range m.rules {
		if r.matches(p) {
			return true
		}
	}
	return false
}

func (r pathRule) matches(p string) bool {
	if r.dir != "" && (p == r.dir || strings.HasPrefix(p, r.dir+"/")) {
		return true
	}
	ok, _ := path.Match(r.glob, p)
	return ok
}
