package httpapi

import "strings"

// isLocalURL reports whether target is a same-origin, relative location
// that is safe to redirect to after login. Absolute URLs, protocol-
// relative URLs ("//evil.example") and backslash variants are rejected,
// preventing open-redirect abuse via attacker-controlled return targets.
func isLocalURL(target string) bool {
	if target == "" {
		return false
	}
	if !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}
	return true
}
