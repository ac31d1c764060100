// Package secret resolves `${secret:provider://path#key}` references
// inside tool configuration, per spec §4.7 and the bit-exact grammar in
// spec §6.
package secret

import (
	"regexp"
)

// refPattern matches both the long (`${secret:...}`) and short
// (`secret:...`) forms in one pass: provider, path, and an optional
// `#key` selector.
var refPattern = regexp.MustCompile(
	`^\$\{secret:([a-zA-Z0-9_-]+)://([^}#]+?)(?:#([^}]+))?\}$|^secret:([a-zA-Z0-9_-]+)://([^#]+?)(?:#(.+))?$`,
)

// Reference is a parsed secret pointer.
type Reference struct {
	Provider string
	Path     string
	Key      string // optional sub-key selector
}

// IsReference reports whether s looks like a secret reference at all,
// cheap enough to call on every string value in a config tree before
// paying for the full regex capture.
func IsReference(s string) bool {
	return refPattern.MatchString(s)
}

// ParseReference extracts provider/path/key from s. Anything not
// matching the pattern is a literal string, not an error — callers
// should check IsReference first when that distinction matters.
func ParseReference(s string) (Reference, bool) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return Reference{}, false
	}
	if m[1] != "" || m[2] != "" {
		return Reference{Provider: m[1], Path: m[2], Key: m[3]}, true
	}
	return Reference{Provider: m[4], Path: m[5], Key: m[6]}, true
}
