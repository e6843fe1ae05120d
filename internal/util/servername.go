package util

import "strings"

// NormalizeServerName trims whitespace and lowercases a server name so that
// comparisons remain case-insensitive. Domain names are case-insensitive per
// RFC 1035, so this canonical form is safe to use as a map key.
func NormalizeServerName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeHomeServerURL ensures base ends in exactly one trailing slash, per
// the Connection invariant in §3 of the spec: the homeserver base URL is
// always trailing-slash normalized.
func NormalizeHomeServerURL(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/"
}
