package trust

import "strings"

// Matches reports whether identifier is entry itself or one of its
// subdomains. The match must sit on a label boundary: "a.google.com"
// matches "google.com", "evilgoogle.com" does not.
func Matches(identifier, entry string) bool {
	if identifier == "" || entry == "" {
		return false
	}
	if identifier == entry {
		return true
	}
	if len(identifier) <= len(entry) || !strings.HasSuffix(identifier, entry) {
		return false
	}
	return identifier[len(identifier)-len(entry)-1] == '.'
}

// Contains reports whether identifier matches any entry. It is the pure
// trust test: the same inputs always give the same answer.
func Contains(identifier string, entries []string) bool {
	for _, e := range entries {
		if Matches(identifier, e) {
			return true
		}
	}
	return false
}
