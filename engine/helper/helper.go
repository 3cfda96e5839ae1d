// Package helper implements the pure text/date/HTML utilities callable
// from plugins (§4.4). Nothing here performs I/O; grounded on
// original_source/engine/script/scripting.cpp's Helper class for exact
// semantics (DESIGN.md, C4).
package helper

import (
	gohtml "html"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var nbspTrimRE = regexp.MustCompile(`(?i)^(&nbsp;)+|(&nbsp;)+$`)

// Trim strips whitespace plus leading/trailing "&nbsp;" repeats (§4.4).
func Trim(s string) string {
	s = strings.TrimSpace(s)
	s = nbspTrimRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// DecodeHTMLEntities decodes both named entities and &#N;/&#xH; numeric
// references.
func DecodeHTMLEntities(s string) string {
	return gohtml.UnescapeString(s)
}

const attrPattern = `\w+(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^"'>\s]+))?`

var stripTagsRE = regexp.MustCompile(`(?s)<\/?\w+(?:\s+` + attrPattern + `)*\s*\/?>`)

// StripTags removes all HTML tags matching the normative pattern of §4.4.
func StripTags(s string) string {
	return stripTagsRE.ReplaceAllString(s, "")
}

var camelWordRE = regexp.MustCompile(`(^\w)|\W(\w)`)

// CamelCase lowercases s then upper-cases the first letter of each word,
// where a word starts at the beginning of the string or after a
// non-word character.
func CamelCase(s string) string {
	lower := strings.ToLower(s)
	runes := []rune(lower)
	idx := camelWordRE.FindAllStringSubmatchIndex(lower, -1)
	for _, m := range idx {
		var pos int
		if m[4] != -1 { // group 2 (\W\w) matched
			pos = len([]rune(lower[:m[4]]))
		} else {
			pos = len([]rune(lower[:m[2]]))
		}
		if pos < len(runes) {
			runes[pos] = unicode.ToUpper(runes[pos])
		}
	}
	return string(runes)
}

// ExtractBlock returns the substring starting at the first occurrence of
// begin and ending just before the first occurrence of end found after
// begin (inclusive of begin, exclusive of end); empty if begin is absent.
func ExtractBlock(s, begin, end string) string {
	pos := strings.Index(s, begin)
	if pos == -1 {
		return ""
	}
	rest := s[pos+1:]
	endRel := strings.Index(rest, end)
	if endRel == -1 {
		return s[pos:]
	}
	return s[pos : pos+1+endRel]
}

// MatchedTime is the result of MatchTime: either Hour/Minute, or Error set.
type MatchedTime struct {
	Hour, Minute int
	Error        bool
}

func timePatternToRegexp(format string) string {
	pattern := regexp.QuoteMeta(format)
	replacer := strings.NewReplacer(
		"hh", `\d{2}`, "h", `\d{1,2}`,
		"mm", `\d{2}`, "m", `\d{1,2}`,
		"AP", `(AM|PM)`, "ap", `(am|pm)`,
	)
	return replacer.Replace(pattern)
}

// MatchTime extracts an hour/minute pair from s using the given format
// (default "hh:mm"), falling back to a bare hh:mm scan.
func MatchTime(s, format string) MatchedTime {
	if format == "" {
		format = "hh:mm"
	}
	re := regexp.MustCompile(timePatternToRegexp(format))
	if loc := re.FindString(s); loc != "" {
		if t, err := parseTimeLoose(loc, format); err == nil {
			return MatchedTime{Hour: t.Hour(), Minute: t.Minute()}
		}
	}
	if format != "hh:mm" {
		re2 := regexp.MustCompile(`\d{1,2}:\d{2}`)
		if loc := re2.FindString(s); loc != "" {
			if t, err := parseTimeLoose(loc, "hh:mm"); err == nil {
				return MatchedTime{Hour: t.Hour(), Minute: t.Minute()}
			}
		}
	}
	return MatchedTime{Error: true}
}

func parseTimeLoose(s, format string) (time.Time, error) {
	goFmt := strings.NewReplacer("hh", "15", "h", "15", "mm", "04", "m", "04").Replace(format)
	return time.Parse(goFmt, s)
}

// MatchDate extracts a date from s using the given format (default
// "yyyy-MM-dd"); if the resulting year is < 1970, 100 is added (§4.4).
func MatchDate(s, format string) (time.Time, bool) {
	if format == "" {
		format = "yyyy-MM-dd"
	}
	pattern := strings.NewReplacer(
		"yyyy", `\d{4}`, "yy", `\d{2}`,
		"MM", `\d{2}`, "M", `\d{1,2}`,
		"dd", `\d{2}`, "d", `\d{1,2}`,
	).Replace(regexp.QuoteMeta(format))
	re := regexp.MustCompile(pattern)
	var d time.Time
	var err error
	if loc := re.FindString(s); loc != "" {
		d, err = parseDateLoose(loc, format)
	} else if format != "yyyy-MM-dd" {
		re2 := regexp.MustCompile(`\d{2,4}-\d{2}-\d{2}`)
		if loc := re2.FindString(s); loc != "" {
			d, err = parseDateLoose(loc, "yyyy-MM-dd")
		} else {
			return time.Time{}, false
		}
	} else {
		return time.Time{}, false
	}
	if err != nil {
		return time.Time{}, false
	}
	if d.Year() < 1970 {
		d = time.Date(d.Year()+100, d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	return d, true
}

func parseDateLoose(s, format string) (time.Time, error) {
	goFmt := strings.NewReplacer(
		"yyyy", "2006", "yy", "06",
		"MM", "01", "M", "1",
		"dd", "02", "d", "2",
	).Replace(format)
	return time.Parse(goFmt, s)
}

// FormatTime formats an hour/minute pair using a Go layout already
// translated by the caller from the provider's pattern (e.g. "15:04").
func FormatTime(hour, minute int, layout string) string {
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format(layout)
}

// FormatDate formats a year/month/day using a Go layout.
func FormatDate(year, month, day int, layout string) string {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Format(layout)
}

// FormatDateTime formats t using a Go layout.
func FormatDateTime(t time.Time, layout string) string { return t.Format(layout) }

// Duration returns the whole minutes between two times parsed with layout,
// or -1 if either fails to parse.
func Duration(t1, t2, layout string) int {
	a, err1 := time.Parse(layout, t1)
	b, err2 := time.Parse(layout, t2)
	if err1 != nil || err2 != nil {
		return -1
	}
	return int(b.Sub(a).Minutes())
}

// AddMinsToTime parses t with layout, adds minsToAdd minutes, and
// re-formats it; returns "" on parse failure.
func AddMinsToTime(t string, minsToAdd int, layout string) string {
	parsed, err := time.Parse(layout, t)
	if err != nil {
		return ""
	}
	return parsed.Add(time.Duration(minsToAdd) * time.Minute).Format(layout)
}

// AddDaysToDate parses d with layout, adds daysToAdd days, and
// re-formats it; returns d unchanged on parse failure.
func AddDaysToDate(d string, daysToAdd int, layout string) string {
	parsed, err := time.Parse(layout, d)
	if err != nil {
		return d
	}
	return parsed.AddDate(0, 0, daysToAdd).Format(layout)
}

// SplitSkipEmptyParts splits s on sep, dropping empty results.
func SplitSkipEmptyParts(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// trailingDigitsRE matches a name's trailing digit run; bumpTrailingNumber
// uses it for FindNamedHTMLTags' "addNumber" collision resolution.
var trailingDigitsRE = regexp.MustCompile(`(\d+)$`)

func bumpTrailingNumber(name string) string {
	if loc := trailingDigitsRE.FindStringSubmatchIndex(name); loc != nil {
		n, _ := strconv.Atoi(name[loc[2]:loc[3]])
		return name[:loc[2]] + strconv.Itoa(n+1)
	}
	return name + "2"
}
