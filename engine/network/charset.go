package network

import (
	"mime"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

var detector = chardet.NewTextDetector()

// charsetFromContentType extracts the charset parameter from a
// Content-Type header value, if present.
func charsetFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// decodeBody turns raw response bytes into UTF-8 text, resolving the
// charset in this priority order: an explicit Content-Type charset, then
// chardet's best guess, then the provider's fallback_charset, then UTF-8
// (§4.5).
func decodeBody(body []byte, contentType, fallbackCharset string) string {
	if len(body) == 0 {
		return ""
	}
	name := charsetFromContentType(contentType)
	if name == "" {
		if result, err := detector.DetectBest(body); err == nil && result != nil {
			name = result.Charset
		}
	}
	if name == "" {
		name = fallbackCharset
	}
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return string(body)
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return string(body)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

// encodeBody is the inverse of decodeBody, used by set_post_data/set_header
// to encode outgoing text with an explicit charset (default utf-8).
func encodeBody(text, charset string) []byte {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return []byte(text)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return []byte(text)
	}
	encoded, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return []byte(text)
	}
	return encoded
}
