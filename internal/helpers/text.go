package helpers

import (
	"errors"
	"path"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPath is returned for page paths that cannot be normalised.
var ErrInvalidPath = errors.New("invalid page path")

// TruncateRunes cuts s to at most max runes without splitting a code point.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// NormalizePagePath cleans a repository path into its canonical form:
// leading slash, no trailing slash (except root), no dot segments.
func NormalizePagePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrInvalidPath
	}
	if strings.ContainsAny(p, "?#\x00") {
		return "", ErrInvalidPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p), nil
}

// IsUnder reports whether p equals prefix or lives beneath it.
func IsUnder(p, prefix string) bool {
	if prefix == "/" || prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
