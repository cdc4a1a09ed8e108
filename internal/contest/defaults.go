package contest

import "sort"

// Built-in desirability patterns per source website. A guild starts from a
// deep copy of these tables and may then diverge via subscribe/unsubscribe.
//
// Allow patterns are case-insensitive substrings matched against the contest
// name; the empty pattern matches every name (Codeforces rounds are allowed
// unconditionally and pruned by the deny list alone). Deny patterns match
// against name or URL and always win.
var (
	defaultAllowedPatterns = map[string][]string{
		"codeforces.com": {""},
		"codechef.com":   {"lunchtime", "cook-off", "rated"},
		"atcoder.jp":     {"beginner contest", "regular contest", "grand contest"},
		"topcoder.com":   {"srm", "tco"},
		"leetcode.com":   {"weekly", "biweekly"},
		"codingcompetitions.withgoogle.com": {"kick start", "code jam"},
	}

	defaultDeniedPatterns = map[string][]string{
		"codeforces.com": {"unrated", "wild", "fools", "kotlin", "testing round"},
		"codechef.com":   {"unrated", "long"},
		"atcoder.jp":     {"heuristic"},
	}
)

// SupportedWebsites lists the website identifiers the bot knows default
// patterns for, sorted for stable display.
func SupportedWebsites() []string {
	sites := make([]string, 0, len(defaultAllowedPatterns))
	for site := range defaultAllowedPatterns {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	return sites
}

// IsSupportedWebsite reports whether site has a built-in pattern table.
func IsSupportedWebsite(site string) bool {
	_, ok := defaultAllowedPatterns[site]
	return ok
}

// DefaultAllowedPatterns returns a deep copy of the built-in allow table.
// Callers receive their own maps and slices; mutating them never reaches the
// shared defaults.
func DefaultAllowedPatterns() map[string][]string {
	return copyPatterns(defaultAllowedPatterns)
}

// DefaultDeniedPatterns returns a deep copy of the built-in deny table.
func DefaultDeniedPatterns() map[string][]string {
	return copyPatterns(defaultDeniedPatterns)
}

// DefaultPatternsFor returns deep copies of one website's default pattern
// lists. ok is false for unsupported websites.
func DefaultPatternsFor(site string) (allowed, denied []string, ok bool) {
	a, found := defaultAllowedPatterns[site]
	if !found {
		return nil, nil, false
	}
	return append([]string(nil), a...), append([]string(nil), defaultDeniedPatterns[site]...), true
}

func copyPatterns(src map[string][]string) map[string][]string {
	out := make(map[string][]string, len(src))
	for site, pats := range src {
		out[site] = append([]string(nil), pats...)
	}
	return out
}
