package physicalweb

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/encoding/htmlindex"
)

// ExtractMetadata implements the §4.4 extraction rules: each field is taken
// from the first matching source in a documented fallback order. baseURL is
// used to resolve a relative icon href and to build the default
// "/favicon.ico" fallback.
func ExtractMetadata(body []byte, charsetName string, baseURL *url.URL) (PageMetadata, error) {
	decoded, err := decodeBody(body, charsetName)
	if err != nil {
		return PageMetadata{}, &ParseError{What: "decode body", Err: err}
	}
	doc, err := html.Parse(bytes.NewReader(decoded))
	if err != nil {
		return PageMetadata{}, &ParseError{What: "parse html", Err: err}
	}

	var meta PageMetadata
	meta.Title = extractTitle(doc)
	meta.Description = extractDescription(doc, meta.Title)
	meta.IconURL = extractIcon(doc, baseURL)
	meta.JSONLDs = extractJSONLDs(doc)
	return meta, nil
}

// decodeBody transcodes body from charsetName to UTF-8. An unknown charset
// name is not an error: the bytes are used as-is, matching the tolerant
// "best effort" spirit of the rest of the extraction pipeline.
func decodeBody(body []byte, charsetName string) ([]byte, error) {
	enc, err := htmlindex.Get(charsetName)
	if err != nil {
		return body, nil
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body, nil
	}
	return out, nil
}

func extractTitle(doc *html.Node) string {
	if n := findElement(doc, atom.Title); n != nil {
		if t := collapseWhitespace(nodeText(n)); t != "" {
			return t
		}
	}
	if content := findMetaContent(doc, "property", "og:title"); content != "" {
		return collapseWhitespace(content)
	}
	return ""
}

func extractDescription(doc *html.Node, title string) string {
	desc := findMetaContent(doc, "name", "description")
	if desc != "" && strings.TrimSpace(desc) == strings.TrimSpace(title) {
		desc = ""
	}
	if desc == "" {
		desc = findMetaContent(doc, "property", "og:description")
	}
	if desc == "" {
		desc = strings.Join(leafTextUnder(doc, hasClass("content")), " ")
	}
	if desc == "" {
		desc = strings.Join(leafTextUnder(doc, hasID("content")), " ")
	}
	if desc == "" {
		if body := findElement(doc, atom.Body); body != nil {
			desc = strings.Join(leafTextUnder(body, nil), " ")
		}
	}
	desc = collapseWhitespace(desc)
	if runes := []rune(desc); len(runes) > 500 {
		desc = string(runes[:500])
	}
	return desc
}

func extractIcon(doc *html.Node, baseURL *url.URL) string {
	rels := []string{"shortcut icon", "icon", "apple-touch-icon-precomposed", "apple-touch-icon"}
	for _, rel := range rels {
		if href := findLinkHref(doc, rel); href != "" {
			return resolveIcon(baseURL, href)
		}
	}
	if img := findMetaContent(doc, "property", "og:image"); img != "" {
		return resolveIcon(baseURL, img)
	}
	def := *baseURL
	def.Path = "/favicon.ico"
	def.RawQuery = ""
	def.Fragment = ""
	return def.String()
}

func resolveIcon(baseURL *url.URL, href string) string {
	href = strings.TrimPrefix(href, "./")
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(u).String()
}

func extractJSONLDs(doc *html.Node) []string {
	var out []string
	forEachElement(doc, atom.Script, func(n *html.Node) {
		if attr(n, "type") != "application/ld+json" {
			return
		}
		text := nodeText(n)
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return // ParseError: silently skipped per §7
		}
		canon, err := json.Marshal(v)
		if err != nil {
			return
		}
		out = append(out, string(canon))
	})
	return out
}

// --- tree walking helpers ---

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func forEachElement(n *html.Node, a atom.Atom, fn func(*html.Node)) {
	if n.Type == html.ElementNode && n.DataAtom == a {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		forEachElement(c, a, fn)
	}
}

func findMetaContent(doc *html.Node, attrName, attrValue string) string {
	var found string
	forEachElement(doc, atom.Meta, func(n *html.Node) {
		if found != "" {
			return
		}
		if attr(n, attrName) == attrValue {
			found = attr(n, "content")
		}
	})
	return found
}

func findLinkHref(doc *html.Node, rel string) string {
	var found string
	forEachElement(doc, atom.Link, func(n *html.Node) {
		if found != "" {
			return
		}
		if strings.EqualFold(attr(n, "rel"), rel) {
			found = attr(n, "href")
		}
	})
	return found
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func hasClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return attr(n, "class") == class
	}
}

func hasID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool { return attr(n, "id") == id }
}

// leafTextUnder gathers text from every "leaf" element (an element with no
// element children) under the first node in root's subtree matching match,
// skipping <script>/<style> entirely. When match is nil, root itself is the
// search scope (used for the <body> fallback). When the scope element has no
// element children, its own text is used.
func leafTextUnder(root *html.Node, match func(*html.Node) bool) []string {
	scope := root
	if match != nil {
		scope = findMatching(root, match)
		if scope == nil {
			return nil
		}
	}
	var out []string
	if scope.Type == html.ElementNode && !hasElementChild(scope) {
		for t := scope.FirstChild; t != nil; t = t.NextSibling {
			if t.Type == html.TextNode {
				if s := strings.TrimSpace(t.Data); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.DataAtom == atom.Script || c.DataAtom == atom.Style {
				continue
			}
			if hasElementChild(c) {
				walk(c)
				continue
			}
			for t := c.FirstChild; t != nil; t = t.NextSibling {
				if t.Type == html.TextNode {
					if s := strings.TrimSpace(t.Data); s != "" {
						out = append(out, s)
					}
				}
			}
		}
	}
	walk(scope)
	return out
}

func findMatching(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findMatching(c, match); found != nil {
			return found
		}
	}
	return nil
}

func hasElementChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return true
		}
	}
	return false
}

// nodeText concatenates every text-node descendant of n, in document order.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// collapseWhitespace implements the §4.4 normalization: strip, replace each
// of CR/LF/TAB/VT/FF with a single space, then collapse runs of spaces.
func collapseWhitespace(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch r {
		case '\r', '\n', '\t', '\v', '\f':
			r = ' '
		}
		if r == ' ' {
			if lastSpace {
				continue
			}
			lastSpace = true
		} else {
			lastSpace = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
