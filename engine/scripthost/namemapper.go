package scripthost

import (
	"reflect"
	"strings"
	"unicode"
)

// snakeCaseMapper implements goja.FieldNameMapper, translating the Go
// binding methods' CamelCase names (GetSync, CreateRequest, ...) to the
// snake_case surface §4.3-§4.6 specify as normative (write_persistent,
// get_sync, find_html_tags, ...).
type snakeCaseMapper struct{}

func (snakeCaseMapper) FieldName(_ reflect.Type, f reflect.StructField) string {
	return camelToSnake(f.Name)
}

func (snakeCaseMapper) MethodName(_ reflect.Type, m reflect.Method) string {
	return camelToSnake(m.Name)
}

func camelToSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && !unicode.IsUpper(runes[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
