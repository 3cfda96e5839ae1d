package helper

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// TagMatch is one match returned by FindHTMLTags (§4.4).
type TagMatch struct {
	Contents    string
	Position    int
	EndPosition int
	Attributes  map[string]AttributeValue
	Name        string
}

// AttributeValue holds a matched attribute's raw value, plus any capture
// groups from a per-attribute value regexp (mirrors the source's
// QStringList-valued attribute entries when a capturing value pattern is used).
type AttributeValue struct {
	Value    string
	Captures []string
}

// NamePosition controls how FindNamedHTMLTags/"namePosition" extracts a
// tag's name.
type NamePosition struct {
	Type   string // "contents" | "attribute"
	Name   string // attribute name, when Type == "attribute"
	RegExp string
}

// FindOptions configures FindHTMLTags (§4.4).
type FindOptions struct {
	Attributes        map[string]string // attr-name-regex -> attr-value-regex, ANDed
	MaxCount          int               // 0 = unlimited
	NoContent         bool              // permit self-closing/void tags
	NoNesting         bool              // close at first closing tag even if nested
	ContentsRegExp    string
	Position          int
	NamePosition      *NamePosition
	AmbiguousNameRes  string // "replace" | "addNumber", for FindNamedHTMLTags
}

const wordBoundaryAttr = `\w+(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^"'>\s]+))?`

var attrScanRE = regexp.MustCompile(`(?i)(\w+)(?:\s*=\s*(?:"([^"]*)"|'([^']*)'|([^"'>\s]+)))?`)

func openTagRE(tagName string, noContent bool) *regexp.Regexp {
	name := regexp.QuoteMeta(tagName)
	if noContent {
		return regexp.MustCompile(fmt.Sprintf(`(?is)<%s((?:\s+%s)*)(?:\s*/)?>`, name, wordBoundaryAttr))
	}
	return regexp.MustCompile(fmt.Sprintf(`(?is)<%s((?:\s+%s)*)>`, name, wordBoundaryAttr))
}

func closeTagRE(tagName string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?is)</%s\s*>`, regexp.QuoteMeta(tagName)))
}

// FindHTMLTags scans s for occurrences of tagName per the option set of §4.4.
func FindHTMLTags(s, tagName string, opts FindOptions) []TagMatch {
	openRE := openTagRE(tagName, opts.NoContent)
	closeRE := closeTagRE(tagName)
	var contentsRE *regexp.Regexp
	if opts.ContentsRegExp != "" {
		contentsRE = regexp.MustCompile("(?is)" + opts.ContentsRegExp)
	}

	var out []TagMatch
	pos := opts.Position
	for (opts.MaxCount <= 0 || len(out) < opts.MaxCount) && pos <= len(s) {
		loc := openRE.FindStringSubmatchIndex(s[pos:])
		if loc == nil {
			break
		}
		matchStart := pos + loc[0]
		matchEnd := pos + loc[1]
		var attrString string
		if loc[2] != -1 {
			attrString = s[pos+loc[2] : pos+loc[3]]
		}

		foundAttrs, ok := matchAttributes(attrString, opts.Attributes)
		if !ok {
			pos = matchEnd
			continue
		}

		endPosition := matchEnd
		var contents string
		if !opts.NoContent {
			c, ep, matched := scanContents(s, matchEnd, openRE, closeRE, opts.NoNesting)
			if !matched {
				pos = matchEnd
				continue
			}
			contents, endPosition = c, ep
		}

		if contentsRE != nil {
			cm := contentsRE.FindStringSubmatchIndex(contents)
			if cm == nil {
				pos = endPosition
				continue
			}
			if len(cm) > 2 && cm[2] != -1 {
				contents = contents[cm[2]:cm[3]]
			} else {
				contents = contents[cm[0]:cm[1]]
			}
		} else {
			contents = strings.TrimSpace(contents)
		}

		tag := TagMatch{Contents: contents, Position: matchStart, EndPosition: endPosition, Attributes: foundAttrs}
		if opts.NamePosition != nil {
			tag.Name = tagName2(tag, *opts.NamePosition)
		}
		out = append(out, tag)
		pos = endPosition
	}
	return out
}

func matchAttributes(attrString string, want map[string]string) (map[string]AttributeValue, bool) {
	found := make(map[string]AttributeValue)
	for _, m := range attrScanRE.FindAllStringSubmatch(attrString, -1) {
		if m[1] == "" {
			continue
		}
		val := m[2]
		if val == "" {
			val = m[3]
		}
		if val == "" {
			val = m[4]
		}
		found[m[1]] = AttributeValue{Value: val}
	}
	for wantName, wantValuePattern := range want {
		av, ok := found[wantName]
		if !ok {
			// name not found verbatim: try wantName as a regexp over found attribute names
			nameRE, err := regexp.Compile("(?i)" + wantName)
			if err != nil {
				return nil, false
			}
			matched := false
			for foundName := range found {
				if nameRE.MatchString(foundName) {
					matched = true
					av = found[foundName]
					break
				}
			}
			if !matched {
				return nil, false
			}
		}
		if av.Value == "" && wantValuePattern == "" {
			continue
		}
		valueRE, err := regexp.Compile("(?i)" + wantValuePattern)
		if err != nil {
			return nil, false
		}
		loc := valueRE.FindStringSubmatchIndex(av.Value)
		if loc == nil {
			return nil, false
		}
		if len(loc) > 2 {
			caps := make([]string, 0, len(loc)/2-1)
			for i := 2; i+1 < len(loc); i += 2 {
				if loc[i] != -1 {
					caps = append(caps, av.Value[loc[i]:loc[i+1]])
				}
			}
			av.Captures = caps
			found[wantName] = av
		}
	}
	return found, true
}

// scanContents finds the matching closing tag starting at from, skipping
// nested same-name opening tags unless noNesting is set.
func scanContents(s string, from int, openRE, closeRE *regexp.Regexp, noNesting bool) (contents string, endPosition int, ok bool) {
	rest := s[from:]
	if noNesting {
		loc := closeRE.FindStringIndex(rest)
		if loc == nil {
			return "", 0, false
		}
		return rest[:loc[0]], from + loc[1], true
	}

	closeLoc := closeRE.FindStringIndex(rest)
	if closeLoc == nil {
		return "", 0, false
	}
	searchSpace := rest[:closeLoc[0]]
	openLoc := openRE.FindStringIndex(searchSpace)
	for openLoc != nil {
		next := closeRE.FindStringIndex(rest[closeLoc[1]:])
		if next == nil {
			return "", 0, false
		}
		closeLoc = []int{closeLoc[1] + next[0], closeLoc[1] + next[1]}
		searchSpace = rest[:closeLoc[0]]
		afterPrevOpen := openLoc[1]
		if afterPrevOpen >= len(searchSpace) {
			break
		}
		nextOpenLoc := openRE.FindStringIndex(searchSpace[afterPrevOpen:])
		if nextOpenLoc == nil {
			openLoc = nil
		} else {
			openLoc = []int{afterPrevOpen + nextOpenLoc[0], afterPrevOpen + nextOpenLoc[1]}
		}
	}
	return rest[:closeLoc[0]], from + closeLoc[1], true
}

func tagName2(tag TagMatch, np NamePosition) string {
	var name string
	if strings.EqualFold(np.Type, "attribute") {
		name = Trim(tag.Attributes[np.Name].Value)
	} else {
		name = Trim(tag.Contents)
	}
	if np.RegExp != "" {
		re := regexp.MustCompile("(?i)" + np.RegExp)
		if m := re.FindStringSubmatch(name); m != nil {
			if len(m) > 1 {
				name = m[1]
			} else {
				name = m[0]
			}
		}
	}
	return name
}

// FindFirstHTMLTag matches only the first tagName occurrence.
func FindFirstHTMLTag(s, tagName string, opts FindOptions) (TagMatch, bool) {
	opts.MaxCount = 1
	tags := FindHTMLTags(s, tagName, opts)
	if len(tags) == 0 {
		return TagMatch{}, false
	}
	return tags[0], true
}

// NamedTagResult is the map+order produced by FindNamedHTMLTags.
type NamedTagResult struct {
	Tags  map[string]TagMatch
	Names []string
}

// FindNamedHTMLTags labels each found tag using NamePosition (default:
// tag contents) and resolves name collisions per AmbiguousNameResolution.
func FindNamedHTMLTags(s, tagName string, opts FindOptions) NamedTagResult {
	np := NamePosition{Type: "contents"}
	if opts.NamePosition != nil {
		np = *opts.NamePosition
	}
	res := opts.AmbiguousNameRes
	if res == "" {
		res = "replace"
	}
	found := FindHTMLTags(s, tagName, opts)
	out := make(map[string]TagMatch)
	var order []string
	for _, tag := range found {
		name := tagName2(tag, np)
		if name == "" {
			continue
		}
		if _, exists := out[name]; exists && strings.EqualFold(res, "addnumber") {
			name = bumpTrailingNumber(name)
		}
		out[name] = tag
		order = append(order, name)
	}
	sort.Strings(order)
	return NamedTagResult{Tags: out, Names: order}
}
