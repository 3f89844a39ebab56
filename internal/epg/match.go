package epg

import (
	"regexp"
	"strings"
)

var countryCodeRegex = regexp.MustCompile(`^[A-Z]{2,3}:\s*`)

var normalizeReplacer = strings.NewReplacer(
	" ", "",
	"-", "",
	"_", "",
	".", "",
	"&", "and",
	"+", "plus",
)

// MatchFunc reports whether a remote guide channel identifier refers to a
// local channel, given the local channel's base identifier.
type MatchFunc func(remoteID, baseID string) bool

// BaseID truncates a local channel identifier at the first '?' or '.'.
func BaseID(id string) string {
	if idx := strings.IndexAny(id, "?."); idx >= 0 {
		return id[:idx]
	}
	return id
}

// SubstringMatch matches when either identifier contains the other,
// ignoring case. Empty identifiers never match.
func SubstringMatch(remoteID, baseID string) bool {
	if remoteID == "" || baseID == "" {
		return false
	}

	remote := strings.ToLower(remoteID)
	base := strings.ToLower(baseID)

	return strings.Contains(remote, base) || strings.Contains(base, remote)
}

// ExactMatch matches identical identifiers, ignoring case.
func ExactMatch(remoteID, baseID string) bool {
	return remoteID != "" && strings.EqualFold(remoteID, baseID)
}

// NormalizeID strips a country prefix such as "US: ", lowercases, and drops
// separators so "FOX-Sports 502" and "foxsports502" compare equal.
func NormalizeID(id string) string {
	normalized := countryCodeRegex.ReplaceAllString(id, "")
	normalized = strings.ToLower(strings.TrimSpace(normalized))
	return normalizeReplacer.Replace(normalized)
}

// NormalizedMatch is SubstringMatch over normalized identifiers.
func NormalizedMatch(remoteID, baseID string) bool {
	return SubstringMatch(NormalizeID(remoteID), NormalizeID(baseID))
}

// MatchFuncByName resolves a matching strategy name.
func MatchFuncByName(name string) (MatchFunc, bool) {
	switch name {
	case "", "substring":
		return SubstringMatch, true
	case "exact":
		return ExactMatch, true
	case "normalized":
		return NormalizedMatch, true
	default:
		return nil, false
	}
}
