package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveShortURL(t *testing.T) {
	assert.Equal(t, "www.example.com", DeriveShortURL("https://www.example.com/path?x=1#frag"))
	assert.Equal(t, "example.com", DeriveShortURL("http://example.com/"))
}

func TestDeriveShortAuthor(t *testing.T) {
	assert.Equal(t, "JMDoe", DeriveShortAuthor("John Michael Doe"))
	assert.Equal(t, "JDoe", DeriveShortAuthor("John Doe"))
	assert.Equal(t, "Doe", DeriveShortAuthor("Doe"))
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, CompareVersions("1.2", "1.2"))
	assert.Equal(t, -1, CompareVersions("1.2", "1.3"))
	assert.Equal(t, 1, CompareVersions("2.0", "1.9"))
	assert.Equal(t, 1, CompareVersions("1.2.1", "1.2"), "longer is greater when shared components are equal")
	assert.Equal(t, -1, CompareVersions("1.2", "1.2.1"))
}

func TestSortChangelogDescending(t *testing.T) {
	entries := []ChangelogEntry{
		{Version: "1.0", Author: "b"},
		{Version: "1.2", Author: "a"},
		{Version: "1.2", Author: "z"},
	}
	SortChangelogDescending(entries)
	require.Len(t, entries, 3)
	assert.Equal(t, "1.2", entries[0].Version)
	assert.Equal(t, "a", entries[0].Author)
	assert.Equal(t, "1.2", entries[1].Version)
	assert.Equal(t, "z", entries[1].Author)
	assert.Equal(t, "1.0", entries[2].Version)
}

const sampleManifest = `<?xml version="1.0" encoding="UTF-8"?>
<PublicTransportEngine>
  <name>Deutsche Bahn</name>
  <name xml:lang="de">Deutsche Bahn (DE)</name>
  <description>German railway timetable provider</description>
  <version>1.2</version>
  <fileVersion>1.1</fileVersion>
  <author shortAuthor="JDoe" email="jdoe@example.com">John Doe</author>
  <url>https://www.bahn.de/path</url>
  <country>de</country>
  <cities onlyUseCitiesInList="true">
    <city>Berlin</city>
    <city replaceWith="Muenchen">München</city>
  </cities>
  <useSeparateCityValue>false</useSeparateCityValue>
  <defaultVehicleType>Bus</defaultVehicleType>
  <minFetchWait>5</minFetchWait>
  <fallbackCharset>utf-8</fallbackCharset>
  <script extensions="qt.core,qt.xml">db.js</script>
  <changelog>
    <entry version="1.2" releasedWith="0.30" author="jdoe">fixed delays</entry>
    <entry version="1.0" releasedWith="0.10" author="jdoe">initial</entry>
  </changelog>
  <sampleStop>Berlin Hbf</sampleStop>
  <sampleStop>München Hbf</sampleStop>
</PublicTransportEngine>`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(sampleManifest), "de_db", "/providers/de")
	require.NoError(t, err)

	assert.Equal(t, "de_db", m.ID)
	assert.Equal(t, "Deutsche Bahn", m.Name["en"])
	assert.Equal(t, "Deutsche Bahn (DE)", m.Name["de"])
	assert.Equal(t, "1.2", m.Version)
	assert.Equal(t, "John Doe", m.Author)
	assert.Equal(t, "JDoe", m.ShortAuthor)
	assert.Equal(t, "www.bahn.de", m.ShortURL)
	assert.True(t, m.OnlyUseCitiesInList)
	assert.Equal(t, []string{"Berlin", "München"}, m.Cities)
	assert.Equal(t, "Muenchen", m.CityNameAliases["München"])
	assert.Equal(t, 5, m.MinFetchWaitSec)
	assert.Equal(t, "/providers/de/db.js", m.ScriptPath)
	assert.Equal(t, []string{"qt.core", "qt.xml"}, m.ScriptExtensions)
	require.Len(t, m.Changelog, 2)
	assert.Equal(t, "1.2", m.Changelog[0].Version)
	assert.Equal(t, []string{"Berlin Hbf", "München Hbf"}, m.SampleStops)
}

func TestParseManifest_RejectsWrongFileVersion(t *testing.T) {
	bad := strings.Replace(sampleManifest, "<fileVersion>1.1</fileVersion>", "<fileVersion>2.0</fileVersion>", 1)
	_, err := ParseManifest(strings.NewReader(bad), "de_db", "/providers/de")
	assert.Error(t, err)
}
