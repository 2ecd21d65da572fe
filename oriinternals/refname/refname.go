// Package refname validates branch and remote names used under a
// repository's refs/ directory (spec.md §4.8/§6).
//
// Grounded on ginternals.IsRefNameValid, kept largely as-is: the rule set
// (no empty segments, no leading dot, no trailing dot, no ".lock" suffix,
// no control characters or shell-hostile punctuation) applies equally to
// Ori's simpler two-level namespace (refs/heads/<name>,
// refs/remotes/<name>) as it did to git's arbitrarily nested one.
package refname

import "strings"

// IsValid reports whether name is a well-formed reference name
// (spec.md §6: refs/heads/<name>, refs/remotes/<name>).
func IsValid(name string) bool {
	if name == "" || name == "/" || name[len(name)-1] == '/' || name[len(name)-1] == '.' {
		return false
	}

	for i, c := range name {
		if c < 32 || c == 127 {
			return false
		}
		if c == '*' || c == '?' || c == '!' || c == '^' {
			return false
		}
		if c == ' ' || c == '[' || c == '\\' || c == ':' {
			return false
		}
		if i < len(name)-1 {
			substr := name[i : i+2]
			if substr == "@{" || substr == ".." {
				return false
			}
		}
	}

	segments := strings.Split(name, "/")
	for _, s := range segments {
		if s == "" || s[0] == '.' || s[len(s)-1] == '.' || strings.HasSuffix(s, ".lock") {
			return false
		}
	}
	return true
}
