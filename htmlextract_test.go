package physicalweb

import (
	"net/url"
	"strings"
	"testing"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestExtractMetadataTitle(t *testing.T) {
	base := mustParseURL(t, "https://example.com/page")
	html := `<html><head><title>  Example   Page  </title></head><body></body></html>`
	meta, err := ExtractMetadata([]byte(html), "utf-8", base)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Title != "Example Page" {
		t.Errorf("Title = %q, want %q", meta.Title, "Example Page")
	}
}

func TestExtractMetadataTitleFallsBackToOGTitle(t *testing.T) {
	base := mustParseURL(t, "https://example.com/page")
	html := `<html><head><meta property="og:title" content="OG Title"></head><body></body></html>`
	meta, err := ExtractMetadata([]byte(html), "utf-8", base)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Title != "OG Title" {
		t.Errorf("Title = %q, want %q", meta.Title, "OG Title")
	}
}

func TestExtractMetadataDescriptionDiscardsDuplicateOfTitle(t *testing.T) {
	base := mustParseURL(t, "https://example.com/page")
	html := `<html><head><title>Same</title><meta name="description" content="Same"></head><body><div class="content">Real body text here.</div></body></html>`
	meta, err := ExtractMetadata([]byte(html), "utf-8", base)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Description != "Real body text here." {
		t.Errorf("Description = %q, want fallback to .content text", meta.Description)
	}
}

func TestExtractMetadataDescriptionLeafTextUnderContentID(t *testing.T) {
	base := mustParseURL(t, "https://example.com/page")
	html := `<html><head><title>T</title></head><body><div id="content"><p>Para one.</p><script>ignored()</script><p>Para two.</p></div></body></html>`
	meta, err := ExtractMetadata([]byte(html), "utf-8", base)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(meta.Description, "Para one.") || !strings.Contains(meta.Description, "Para two.") {
		t.Errorf("Description = %q, want both paragraphs and no script text", meta.Description)
	}
	if strings.Contains(meta.Description, "ignored") {
		t.Errorf("Description leaked script text: %q", meta.Description)
	}
}

func TestExtractMetadataIconFromLinkRel(t *testing.T) {
	base := mustParseURL(t, "https://example.com/page")
	html := `<html><head><link rel="icon" href="/static/icon.png"></head><body></body></html>`
	meta, err := ExtractMetadata([]byte(html), "utf-8", base)
	if err != nil {
		t.Fatal(err)
	}
	if meta.IconURL != "https://example.com/static/icon.png" {
		t.Errorf("IconURL = %q, want resolved absolute icon", meta.IconURL)
	}
}

func TestExtractMetadataIconDefaultsToFaviconICO(t *testing.T) {
	base := mustParseURL(t, "https://example.com/page?x=1#frag")
	html := `<html><head><title>No icon here</title></head><body></body></html>`
	meta, err := ExtractMetadata([]byte(html), "utf-8", base)
	if err != nil {
		t.Fatal(err)
	}
	if meta.IconURL != "https://example.com/favicon.ico" {
		t.Errorf("IconURL = %q, want default favicon.ico with no query/fragment", meta.IconURL)
	}
}

func TestExtractMetadataJSONLD(t *testing.T) {
	base := mustParseURL(t, "https://example.com/page")
	html := `<html><head>
		<script type="application/ld+json">{"@type":"Organization","name":"Acme"}</script>
		<script type="application/ld+json">not json</script>
	</head><body></body></html>`
	meta, err := ExtractMetadata([]byte(html), "utf-8", base)
	if err != nil {
		t.Fatal(err)
	}
	if len(meta.JSONLDs) != 1 {
		t.Fatalf("got %d JSON-LD blocks, want 1 (malformed one skipped)", len(meta.JSONLDs))
	}
	if !strings.Contains(meta.JSONLDs[0], "Acme") {
		t.Errorf("JSONLDs[0] = %q, want it to contain Acme", meta.JSONLDs[0])
	}
}

func TestCollapseWhitespace(t *testing.T) {
	table := []struct{ input, want string }{
		{"  hi   there  ", "hi there"},
		{"a\n\nb\t\tc", "a b c"},
		{"", ""},
	}
	for _, tt := range table {
		if got := collapseWhitespace(tt.input); got != tt.want {
			t.Errorf("collapseWhitespace(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
