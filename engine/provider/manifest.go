package provider

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/publictransport/ptengine/engine/timetable"
)

// ParseManifest reads the provider XML manifest of §6/§4.13. id is the
// provider id assigned by the caller (the manifest's own file name,
// minus extension, per the original per-file layout); scriptDir is the
// directory the manifest lives in, used to resolve ScriptPath.
//
// Grounded on original_source/engine/timetableaccessor_info.cpp/.h for
// the field set; parsed with antchfx/xmlquery+xpath rather than stdlib
// encoding/xml because the manifest's elements are optional, repeatable,
// and language-keyed in a way XPath expresses directly (DESIGN.md, C13).
func ParseManifest(r io.Reader, id, scriptDir string) (*Metadata, error) {
	doc, err := xmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("provider: parsing manifest for %q: %w", id, err)
	}

	fileVersion := textOf(xmlquery.FindOne(doc, "//fileVersion"))
	if fileVersion != "" && fileVersion != "1.1" {
		return nil, fmt.Errorf("provider: manifest %q has unsupported fileVersion %q", id, fileVersion)
	}

	m := &Metadata{
		ID:                    id,
		Name:                  localizedElements(doc, "//name"),
		Description:           localizedElements(doc, "//description"),
		Version:               textOf(xmlquery.FindOne(doc, "//version")),
		Author:                textOf(xmlquery.FindOne(doc, "//author")),
		ShortAuthor:           attrOf(xmlquery.FindOne(doc, "//author"), "shortAuthor"),
		Email:                 attrOf(xmlquery.FindOne(doc, "//author"), "email"),
		URL:                   textOf(xmlquery.FindOne(doc, "//url")),
		ShortURL:              textOf(xmlquery.FindOne(doc, "//shortUrl")),
		Country:               textOf(xmlquery.FindOne(doc, "//country")),
		CityNameAliases:       make(map[string]string),
		UseSeparateCityValue:  boolOf(textOf(xmlquery.FindOne(doc, "//useSeparateCityValue"))),
		FallbackCharset:       textOf(xmlquery.FindOne(doc, "//fallbackCharset")),
		CharsetForURLEncoding: textOf(xmlquery.FindOne(doc, "//charsetForUrlEncoding")),
		MinFetchWaitSec:       intOf(textOf(xmlquery.FindOne(doc, "//minFetchWait"))),
		SampleCity:            textOf(xmlquery.FindOne(doc, "//sampleCity")),
	}

	if citiesNode := xmlquery.FindOne(doc, "//cities"); citiesNode != nil {
		m.OnlyUseCitiesInList = boolOf(attrOf(citiesNode, "onlyUseCitiesInList"))
		for _, c := range xmlquery.Find(citiesNode, "./city") {
			name := textOf(c)
			if name == "" {
				continue
			}
			m.Cities = append(m.Cities, name)
			if alias := attrOf(c, "replaceWith"); alias != "" {
				m.CityNameAliases[name] = alias
			}
		}
	}

	for _, s := range xmlquery.Find(doc, "//sampleStop") {
		if txt := textOf(s); txt != "" {
			m.SampleStops = append(m.SampleStops, txt)
		}
	}

	if scriptNode := xmlquery.FindOne(doc, "//script"); scriptNode != nil {
		scriptFile := textOf(scriptNode)
		if scriptFile != "" {
			m.ScriptPath = joinPath(scriptDir, scriptFile)
		}
		if exts := attrOf(scriptNode, "extensions"); exts != "" {
			for _, e := range strings.Split(exts, ",") {
				e = strings.TrimSpace(e)
				if e != "" {
					m.ScriptExtensions = append(m.ScriptExtensions, e)
				}
			}
		}
	}

	if dvt := textOf(xmlquery.FindOne(doc, "//defaultVehicleType")); dvt != "" {
		if vt, ok := timetable.ParseVehicleType(dvt); ok {
			m.DefaultVehicleType = vt
		}
	}

	for _, entry := range xmlquery.Find(doc, "//changelog/entry") {
		m.Changelog = append(m.Changelog, ChangelogEntry{
			Version:      attrOf(entry, "version"),
			ReleasedWith: attrOf(entry, "releasedWith"),
			Author:       attrOf(entry, "author"),
		})
	}

	m.Normalize()
	return m, nil
}

func localizedElements(doc *xmlquery.Node, xpath string) map[string]string {
	out := make(map[string]string)
	for _, n := range xmlquery.Find(doc, xpath) {
		lang := attrOf(n, "xml:lang")
		if lang == "" {
			lang = "en"
		}
		out[lang] = textOf(n)
	}
	if len(out) == 0 {
		out["en"] = ""
	}
	return out
}

func textOf(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

func attrOf(n *xmlquery.Node, name string) string {
	if n == nil {
		return ""
	}
	return n.SelectAttr(name)
}

func boolOf(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func intOf(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func joinPath(dir, file string) string {
	if dir == "" {
		return file
	}
	return strings.TrimSuffix(dir, "/") + "/" + file
}
