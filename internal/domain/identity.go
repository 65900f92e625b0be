package domain

import "strings"

// NormalizeIdentity canonicalizes an assignee/login identity for comparison.
// Source identities are inconsistently formatted ("J. Smith", "j.smith",
// "J Smith"), so comparisons lower-case and strip spaces and periods. This is
// the single normalization used everywhere identities are compared.
func NormalizeIdentity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// SameIdentity reports whether two identities match after normalization.
func SameIdentity(a, b string) bool {
	return NormalizeIdentity(a) == NormalizeIdentity(b)
}
