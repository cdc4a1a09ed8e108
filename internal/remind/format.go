package remind

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"remindbot/internal/contest"
)

const startStampLayout = "02 Jan 06, 15:04"

// FormatDuration renders a contest duration as "1d 2h 3m", dropping the day
// part when zero but always showing minutes ("2h 0m", "45m").
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int(d.Minutes())
	days, hrs, rem := mins/(24*60), (mins/60)%24, mins%60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hrs, rem)
	case hrs > 0:
		return fmt.Sprintf("%dh %dm", hrs, rem)
	default:
		return fmt.Sprintf("%dm", rem)
	}
}

// FormatLead renders a lead time in words, e.g. "1 day 2 hrs 5 mins".
// Zero components are skipped; a zero lead reads "0 mins".
func FormatLead(d time.Duration) string {
	mins := int(d.Minutes())
	days, hrs, rem := mins/(24*60), (mins/60)%24, mins%60

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day", "days"))
	}
	if hrs > 0 {
		parts = append(parts, plural(hrs, "hr", "hrs"))
	}
	if rem > 0 || len(parts) == 0 {
		parts = append(parts, plural(rem, "min", "mins"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

// FormatStart renders a start instant in the guild's timezone, with the
// zone's abbreviation so readers know which clock they are looking at.
func FormatStart(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return local.Format(startStampLayout) + " " + local.Format("MST")
}

// ReminderText is the message body for one reminder: a lead sentence followed
// by one line per contest. The platform adapter prepends the role mention.
func ReminderText(contests []contest.Contest, lead time.Duration, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "About to start in %s:\n", FormatLead(lead))
	for _, c := range contests {
		fmt.Fprintf(&b, "%s (%s)\nStarts %s, lasts %s\n%s\n",
			c.Name, c.Website, FormatStart(c.Start, loc), FormatDuration(c.Duration), c.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ListingRows renders contests as column-aligned rows for a monospace block.
// Widths are measured in runes; byte-based padding skews columns as soon as
// a contest name carries non-ASCII characters.
func ListingRows(contests []contest.Contest, loc *time.Location) []string {
	nameW, siteW := 0, 0
	for _, c := range contests {
		if n := utf8.RuneCountInString(c.Name); n > nameW {
			nameW = n
		}
		if n := utf8.RuneCountInString(c.Website); n > siteW {
			siteW = n
		}
	}
	rows := make([]string, 0, len(contests))
	for _, c := range contests {
		rows = append(rows, fmt.Sprintf("%s  %s  %s  %s",
			padRunes(c.Name, nameW), padRunes(c.Website, siteW),
			FormatStart(c.Start, loc), FormatDuration(c.Duration)))
	}
	return rows
}

func padRunes(s string, width int) string {
	if n := width - utf8.RuneCountInString(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}
