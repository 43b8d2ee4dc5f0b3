package physicalweb

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultCharset is the last-resort encoding used when nothing in the
// document declares one (§4.3).
const DefaultCharset = "iso-8859-1"

// DetectEncoding implements the §4.3 algorithm: UTF-8 if the bytes decode
// cleanly as such, else whatever <meta http-equiv="Content-Type" ...
// charset=X"> or <meta charset="X"> declares when the document is tokenized
// under a provisional iso-8859-1 assumption, else DefaultCharset.
func DetectEncoding(body []byte) string {
	if utf8.Valid(body) {
		return "utf-8"
	}
	if cs := metaCharset(body); cs != "" {
		return cs
	}
	return DefaultCharset
}

// metaCharset scans the document's <head> for a declared charset, stopping
// at <body> (a charset meta tag after <body> is not honored by browsers and
// is not honored here either). It uses the low-level tokenizer rather than a
// full parse, so it can stop as soon as <body> starts.
//
// §4.3 ranks an http-equiv="Content-Type" charset ahead of a bare
// charset="X" attribute regardless of which <meta> tag appears first in
// document order, so both are tracked across the whole scan and http-equiv
// wins at the end rather than on a first-match basis.
func metaCharset(body []byte) string {
	var httpEquivCharset, bareCharset string
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return firstNonEmpty(httpEquivCharset, bareCharset)
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch atom.Lookup(name) {
			case atom.Body:
				return firstNonEmpty(httpEquivCharset, bareCharset)
			case atom.Meta:
				he, bare := metaTagCharset(z, hasAttr)
				if httpEquivCharset == "" {
					httpEquivCharset = he
				}
				if bareCharset == "" {
					bareCharset = bare
				}
			}
		}
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// metaTagCharset inspects one already-opened <meta> tag's attributes,
// returning separately whatever it finds for http-equiv="Content-Type"
// content="...charset=X" and for a bare charset="X" attribute.
func metaTagCharset(z *html.Tokenizer, hasAttr bool) (httpEquivCharset, bareCharset string) {
	var httpEquiv, content string
	for hasAttr {
		var k, v []byte
		k, v, hasAttr = z.TagAttr()
		switch string(k) {
		case "http-equiv":
			httpEquiv = string(v)
		case "content":
			content = string(v)
		case "charset":
			bareCharset = string(v)
		}
	}
	if bytes.EqualFold([]byte(httpEquiv), []byte("Content-Type")) {
		httpEquivCharset = charsetFromContentType(content)
	}
	return httpEquivCharset, bareCharset
}

// charsetFromContentType extracts X from a "...;charset=X" content value,
// the same shape as an HTTP Content-Type header.
func charsetFromContentType(content string) string {
	const key = "charset="
	idx := bytes.Index(bytes.ToLower([]byte(content)), []byte(key))
	if idx < 0 {
		return ""
	}
	rest := content[idx+len(key):]
	if end := bytes.IndexByte([]byte(rest), ';'); end >= 0 {
		rest = rest[:end]
	}
	rest = string(bytes.Trim([]byte(rest), ` "'`))
	return rest
}
