// Package physicalweb implements a Physical-Web URL resolution service: given
// a batch of observed beacon URLs, each optionally carrying RSSI/TxPower
// radio measurements, it resolves page-level metadata (title, description,
// icon, JSON-LD) for each one and ranks the batch by estimated proximity.
//
// The package is organized as a handful of small components, each configured
// by its own functional options (WithXxx functions returning an XxxOption),
// in the same shape as the rest of this family of URL-metadata services:
// MetadataStore persists one record per canonical URL, Fetcher performs the
// single non-redirecting GET,
// HTMLExtractor turns a byte stream into a PageMetadata, Resolver ties cache
// policy and redirect recursion together, and Handler exposes the HTTP
// contract described below.
//
// # HTTP surface
//
//	POST /resolve-scan   {objects:[ScanObject], secureOnly?:bool} -> {metadata:[DeviceData]}
//	POST /refresh-url     url=... (query or form)                 -> 200
//	GET  /favicon         url=<encoded icon url>                   -> image bytes, 404 if unknown
//	GET  /go              url=<encoded url>                        -> 302
//	GET  /                                                         -> 200
//
// Clients are mobile scanners: they key results by DeviceData.ID (the
// original, pre-redirect URL), never by position, since a failed URL is
// simply omitted from the response.
package physicalweb

import "time"

// SiteRecord is the durable, per-key record MetadataStore holds for a
// resolved URL. Key is the URL string the page was fetched under. The
// Resolver stores a fetched page under the URL that served it and deletes any
// record held under a redirect source, so in the records it writes URL equals
// Key; the client-supplied, pre-redirect URL is kept only as DeviceData.ID.
type SiteRecord struct {
	Key         string
	URL         string
	Title       string
	Description string
	FaviconURL  string
	JSONLDs     string // serialized JSON array, or "" if none were found
	AddedOn     time.Time
	UpdatedOn   time.Time
}

// UpsertFields carries the subset of SiteRecord fields a write updates.
// Zero-value fields are stored as-is: Upsert always overwrites every listed
// field, it never merges with a prior value (the Resolver, not the store,
// decides what a write should contain).
type UpsertFields struct {
	URL         string
	Title       string
	Description string
	FaviconURL  string
	JSONLDs     string
}

// ScanObject is one entry of a resolve-scan request batch.
type ScanObject struct {
	URL     string   `json:"url"`
	Force   bool     `json:"force,omitempty"`
	RSSI    *float64 `json:"rssi,omitempty"`
	TxPower *float64 `json:"txpower,omitempty"`
}

// ScanRequest is the body of POST /resolve-scan.
type ScanRequest struct {
	Objects    []ScanObject `json:"objects"`
	SecureOnly *bool        `json:"secureOnly,omitempty"`
}

// DeviceData is one entry of a resolve-scan response.
type DeviceData struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	DisplayURL  string `json:"displayUrl"`
	Rank        float64 `json:"rank"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	JSONLD      []any  `json:"json-ld,omitempty"`
	GroupID     string `json:"groupid,omitempty"`

	distance  float64 // pre-rank distance, used only for sorting
	hasDist   bool
}

// ScanResponse is the body of a resolve-scan response.
type ScanResponse struct {
	Metadata   []DeviceData `json:"metadata"`
	Unresolved []DeviceData `json:"unresolved,omitempty"`
}

// PageMetadata is what HTMLExtractor produces from one page fetch.
type PageMetadata struct {
	Title       string
	Description string
	IconURL     string
	JSONLDs     []string // each successfully-parsed ld+json block, re-serialized as compact JSON
}

// RankInvalid is the rank reported for an entry whose distance could not be
// computed (§4.5).
const RankInvalid = 1000
