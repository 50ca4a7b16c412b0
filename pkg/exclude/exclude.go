// Exclusion rules evaluated before anything is hashed, copied or cataloged.
package exclude

import (
	"regexp"
	"strings"

	"github.com/function61/tapevault/pkg/canonpath"
)

// One pattern, interpreted by shape (mirrors rsync-style exclude semantics):
//
//	"tmp/"        directory-name rule: matches if any path segment is "tmp"
//	"*/cache/*.o" full-path glob: matched against the whole relative path
//	"*.DS_Store"  single-segment glob: matched against each path segment
//	"~$"          exact substring: matches if it appears anywhere in the path
type Rule string

type Rules []Rule

func (r Rules) AsStrings() []string {
	patterns := make([]string, len(r))
	for i, rule := range r {
		patterns[i] = string(rule)
	}
	return patterns
}

// relPath must already be canonicalized
func (r Rules) Match(relPath string) bool {
	for _, rule := range r {
		if rule.match(relPath) {
			return true
		}
	}

	return false
}

func (rule Rule) match(relPath string) bool {
	pattern := string(rule)
	segments := canonpath.Segments(relPath)

	switch {
	case strings.HasSuffix(pattern, "/"): // directory-name rule
		dirPattern := strings.TrimSuffix(pattern, "/")

		for _, segment := range segments {
			if segment == dirPattern || globMatch(dirPattern, segment) {
				return true
			}
		}
	case hasWildcards(pattern) && strings.Contains(pattern, "/"): // full-path glob
		return globMatch(pattern, relPath)
	case hasWildcards(pattern): // single-segment glob
		for _, segment := range segments {
			if globMatch(pattern, segment) {
				return true
			}
		}
	default: // exact substring
		return strings.Contains(relPath, pattern)
	}

	return false
}

func hasWildcards(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

// fnmatch-style glob: "*" matches any run of characters (including "/", so
// full-path globs behave like rsync's), "?" matches a single character.
func globMatch(pattern string, subject string) bool {
	expr := &strings.Builder{}
	expr.WriteString("^")

	for _, ch := range pattern {
		switch ch {
		case '*':
			expr.WriteString(".*")
		case '?':
			expr.WriteString(".")
		default:
			expr.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}

	expr.WriteString("$")

	matched, err := regexp.MatchString(expr.String(), subject)
	return err == nil && matched
}
