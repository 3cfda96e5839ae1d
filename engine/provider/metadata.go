// Package provider implements the immutable provider-plugin description
// of §C13/§4.13: field set, short_url/short_author derivation, and
// changelog ordering. Manifest parsing lives in manifest.go.
package provider

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/publictransport/ptengine/engine/timetable"
)

// ChangelogEntry is one <changelog><entry> element.
type ChangelogEntry struct {
	Version      string
	ReleasedWith string
	Author       string
}

// Metadata is the immutable description of one provider plugin, loaded
// once at startup and never mutated afterward.
type Metadata struct {
	ID                    string
	ScriptPath            string
	ScriptExtensions      []string
	FallbackCharset       string
	CharsetForURLEncoding string
	DefaultVehicleType    timetable.VehicleType
	URL                   string
	ShortURL              string
	Author                string
	ShortAuthor           string
	Email                 string
	Name                  map[string]string
	Description           map[string]string
	Country               string
	Cities                []string
	CityNameAliases       map[string]string
	OnlyUseCitiesInList   bool
	UseSeparateCityValue  bool
	MinFetchWaitSec       int
	Version               string
	Changelog             []ChangelogEntry
	SampleStops           []string
	SampleCity            string
}

// LocalizedName returns Name[lang], falling back to Name["en"].
func (m *Metadata) LocalizedName(lang string) string {
	return localized(m.Name, lang)
}

// LocalizedDescription returns Description[lang], falling back to
// Description["en"].
func (m *Metadata) LocalizedDescription(lang string) string {
	return localized(m.Description, lang)
}

func localized(m map[string]string, lang string) string {
	if v, ok := m[lang]; ok {
		return v
	}
	return m["en"]
}

// DeriveShortURL computes short_url from url when the manifest omits it:
// host only, no scheme/port/path/query/fragment, trailing slash
// stripped (§3).
func DeriveShortURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.TrimSuffix(rawURL, "/")
	}
	host := u.Hostname()
	if host == "" {
		host = strings.TrimSuffix(rawURL, "/")
	}
	return strings.TrimSuffix(host, "/")
}

// DeriveShortAuthor computes short_author from author when the manifest
// omits it: first letter of each given name plus the full family name
// (the family name is the last whitespace-separated word) (§3).
func DeriveShortAuthor(author string) string {
	words := strings.Fields(author)
	if len(words) == 0 {
		return ""
	}
	if len(words) == 1 {
		return words[0]
	}
	var b strings.Builder
	for _, w := range words[:len(words)-1] {
		r := []rune(w)
		if len(r) > 0 {
			b.WriteRune(r[0])
		}
	}
	b.WriteString(words[len(words)-1])
	return b.String()
}

// CompareVersions compares two dotted-decimal version strings
// component-wise as integers; when all shared components are equal, the
// longer version is greater (§4.13). Returns -1, 0, or 1.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, _ := strconv.Atoi(as[i])
		bv, _ := strconv.Atoi(bs[i])
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}

// SortChangelogDescending orders entries by descending version, tying
// on ascending author (§3, §4.13).
func SortChangelogDescending(entries []ChangelogEntry) {
	sort.SliceStable(entries, func(i, k int) bool {
		cmp := CompareVersions(entries[i].Version, entries[k].Version)
		if cmp != 0 {
			return cmp > 0
		}
		return entries[i].Author < entries[k].Author
	})
}

// Normalize fills in derived fields left blank by the manifest and
// sorts the changelog. Call once after parsing.
func (m *Metadata) Normalize() {
	if m.ShortURL == "" {
		m.ShortURL = DeriveShortURL(m.URL)
	}
	if m.ShortAuthor == "" {
		m.ShortAuthor = DeriveShortAuthor(m.Author)
	}
	SortChangelogDescending(m.Changelog)
}
