package scripthost

import (
	"regexp"
	"strings"
)

// includeCallRE matches one include("name") statement, optionally
// ;-terminated, anywhere a prefix scan considers it.
var includeCallRE = regexp.MustCompile(`^include\(\s*"([^"]*)"\s*\)\s*;?`)

// scanIncludePrefix walks src from the start, consuming only whitespace,
// single-line comments, block comments, and include("...") calls, up to
// maxLine source lines (§4.7 step 4: "before any non-include
// statement"). It returns the include() arguments found, in order, and
// the byte offset where the prefix ends (the first byte that is neither
// whitespace, a comment, nor part of a recognized include call).
func scanIncludePrefix(src string, maxLine int) (includes []string, prefixEnd int) {
	pos := 0
	line := 1
	n := len(src)
	for pos < n && (maxLine <= 0 || line <= maxLine) {
		rest := src[pos:]

		if ws := leadingWhitespace(rest); ws > 0 {
			line += strings.Count(rest[:ws], "\n")
			pos += ws
			continue
		}
		if strings.HasPrefix(rest, "//") {
			end := strings.IndexByte(rest, '\n')
			if end == -1 {
				pos = n
				break
			}
			pos += end + 1
			line++
			continue
		}
		if strings.HasPrefix(rest, "/*") {
			end := strings.Index(rest, "*/")
			if end == -1 {
				pos = n
				break
			}
			line += strings.Count(rest[:end+2], "\n")
			pos += end + 2
			continue
		}
		if m := includeCallRE.FindStringSubmatchIndex(rest); m != nil {
			name := rest[m[2]:m[3]]
			includes = append(includes, name)
			line += strings.Count(rest[:m[1]], "\n")
			pos += m[1]
			continue
		}
		break
	}
	return includes, pos
}

func leadingWhitespace(s string) int {
	i := 0
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			i++
		default:
			return i
		}
	}
	return i
}

// blankPrefix replaces every non-newline byte of src[:end] with a space,
// preserving line numbers for subsequent error messages while removing
// the already-resolved include() calls from the text the engine runs.
func blankPrefix(src string, end int) string {
	b := []byte(src)
	for i := 0; i < end; i++ {
		if b[i] != '\n' {
			b[i] = ' '
		}
	}
	return string(b)
}
