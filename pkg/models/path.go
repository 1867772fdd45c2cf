package models

import "strings"

// NormalizePath canonicalizes a directory path: leading slash, no
// trailing slash, duplicate separators collapsed. Both the executor and
// the history store apply it, so paths compare byte-for-byte across
// live state, baselines and persisted rows.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)

	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}

	return p
}
