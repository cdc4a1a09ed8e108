package contest

import "strings"

// Desired reports whether a contest passes the given pattern tables.
//
// Deny wins: any deny pattern for the contest's website appearing in the name
// or the URL (case-insensitive) rejects the contest regardless of allow
// matches. Otherwise the contest is accepted iff some allow pattern for its
// website appears in the name; a website with no allow patterns is rejected
// by default.
//
// The same function serves two call sites with different tables: the global
// cache build (built-in defaults) and per-guild narrowing (the guild's own
// overrides).
func Desired(c Contest, allowed, denied map[string][]string) bool {
	name := strings.ToLower(c.Name)
	url := strings.ToLower(c.URL)

	for _, p := range denied[c.Website] {
		p = strings.ToLower(p)
		if p == "" {
			continue
		}
		if strings.Contains(name, p) || strings.Contains(url, p) {
			return false
		}
	}
	for _, p := range allowed[c.Website] {
		// The empty pattern matches every name.
		if strings.Contains(name, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// FilterDesired returns the contests from list that pass Desired.
func FilterDesired(list []Contest, allowed, denied map[string][]string) []Contest {
	out := make([]Contest, 0, len(list))
	for _, c := range list {
		if Desired(c, allowed, denied) {
			out = append(out, c)
		}
	}
	return out
}
