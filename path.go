package x402

import (
	"fmt"
	"regexp"
	"strings"
)

// PathPattern is a single compiled matcher: an exact string, a filesystem-
// style glob, or a `regex:`-prefixed regular expression. Patterns are
// validated at construction time rather than failing open at match time,
// per the InvalidConfig policy: an unsupported pattern shape is a wiring
// error, not a silent non-match.
type PathPattern struct {
	raw   string
	regex *regexp.Regexp // nil for Exact
	exact string         // valid only when regex == nil
}

// NewPathPattern compiles a single path pattern. A leading "regex:"
// selects regular-expression matching, anchored only at the start (the
// same semantics as Python's re.match, not a full-string search). Any
// other pattern containing '*' or '?' is treated as a filesystem-style
// glob that crosses '/' — deliberately unlike Go's path/filepath.Match,
// which does not. Everything else matches literally.
func NewPathPattern(pattern string) (PathPattern, error) {
	if rx, ok := strings.CutPrefix(pattern, "regex:"); ok {
		compiled, err := regexp.Compile("^(?:" + rx + ")")
		if err != nil {
			return PathPattern{}, NewPaymentError(ErrInvalidConfig, fmt.Sprintf("invalid regex pattern %q", pattern), "", "", "", err)
		}
		return PathPattern{raw: pattern, regex: compiled}, nil
	}
	if strings.ContainsAny(pattern, "*?") {
		compiled, err := regexp.Compile(globToRegex(pattern))
		if err != nil {
			return PathPattern{}, NewPaymentError(ErrInvalidConfig, fmt.Sprintf("invalid glob pattern %q", pattern), "", "", "", err)
		}
		return PathPattern{raw: pattern, regex: compiled}, nil
	}
	return PathPattern{raw: pattern, exact: pattern}, nil
}

// Match reports whether path matches this pattern. Match is pure: it
// depends only on the pattern and path, performs no URL decoding, and is
// always case-sensitive.
func (p PathPattern) Match(path string) bool {
	if p.regex != nil {
		return p.regex.MatchString(path)
	}
	return p.exact == path
}

func (p PathPattern) String() string { return p.raw }

// globToRegex translates a filesystem-style glob into an anchored, full-
// match regular expression. '*' matches any run of characters including
// '/', matching fnmatch semantics rather than shell-glob semantics.
func globToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '\\':
			b.WriteString("\\")
			b.WriteByte(c)
		case '[':
			// pass bracket expressions through largely unchanged, since
			// they're already valid regex character-class syntax.
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				b.WriteString("[^")
				j++
			} else {
				b.WriteString("[")
			}
			for j < len(pattern) && pattern[j] != ']' {
				b.WriteByte(pattern[j])
				j++
			}
			if j < len(pattern) {
				b.WriteString("]")
			}
			i = j
		default:
			b.WriteByte(c)
		}
	}
	b.WriteString("$")
	return b.String()
}

// PathMatcher matches a request path against one or more PathPattern
// values, any of which may match.
type PathMatcher struct {
	patterns []PathPattern
}

// NewPathMatcher compiles path as a single pattern (see
// NewPathMatcherFromList for several). A "*" pattern matches every path;
// an empty pattern is an exact match and matches only the empty path.
func NewPathMatcher(path string) (*PathMatcher, error) {
	return NewPathMatcherFromList([]string{path})
}

// NewPathMatcherFromList compiles a list of patterns, any of which may
// match. A pattern list whose element is not a usable string is rejected
// at construction rather than silently never matching.
func NewPathMatcherFromList(patterns []string) (*PathMatcher, error) {
	if len(patterns) == 0 {
		return nil, NewPaymentError(ErrInvalidConfig, "path pattern list must not be empty", "", "", "", nil)
	}
	m := &PathMatcher{}
	for _, raw := range patterns {
		p, err := NewPathPattern(raw)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// Match reports whether path satisfies any of the matcher's patterns.
func (m *PathMatcher) Match(path string) bool {
	for _, p := range m.patterns {
		if p.Match(path) {
			return true
		}
	}
	return false
}
