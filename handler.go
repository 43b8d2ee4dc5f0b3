package physicalweb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/artyom/httpflags"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// DefaultMaxScanObjects caps how many entries a single resolve-scan request
// processes, the same defensive role the teacher's DefaultMaxResults plays.
const DefaultMaxScanObjects = 100

// Handler exposes the HTTP contract of §6: resolve-scan, refresh-url,
// favicon, go, and the empty index route.
type Handler struct {
	resolver          *Resolver
	store             MetadataStore
	fetcher           *Fetcher
	refresh           *RefreshQueue
	log               zerolog.Logger
	secureOnlyDefault bool
	maxObjects        int
}

// HandlerOption configures a Handler at construction time.
type HandlerOption func(*Handler)

// WithSecureOnlyDefault sets the system default for ScanRequest.SecureOnly
// when the request omits it (§4.8).
func WithSecureOnlyDefault(v bool) HandlerOption {
	return func(h *Handler) { h.secureOnlyDefault = v }
}

// WithMaxScanObjects overrides DefaultMaxScanObjects.
func WithMaxScanObjects(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxObjects = n
		}
	}
}

// NewHandler builds the http.Handler serving every route in §6.
func NewHandler(resolver *Resolver, store MetadataStore, fetcher *Fetcher, refresh *RefreshQueue, log zerolog.Logger, opts ...HandlerOption) http.Handler {
	h := &Handler{
		resolver:   resolver,
		store:      store,
		fetcher:    fetcher,
		refresh:    refresh,
		log:        log,
		maxObjects: DefaultMaxScanObjects,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Get("/", h.index)
	r.Post("/resolve-scan", h.resolveScan)
	r.Post("/refresh-url", h.refreshURL)
	r.Get("/favicon", h.favicon)
	r.Get("/go", h.goRedirect)
	return r
}

func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) resolveScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Malformed body: respond with an empty batch rather than a 5xx —
		// the resolution pipeline never surfaces client input errors as
		// server errors (§7).
		writeJSON(w, ScanResponse{Metadata: []DeviceData{}})
		return
	}
	if len(req.Objects) > h.maxObjects {
		req.Objects = req.Objects[:h.maxObjects]
	}
	secureOnly := h.secureOnlyDefault
	if req.SecureOnly != nil {
		secureOnly = *req.SecureOnly
	}

	ctx := r.Context()
	results := make([]*DeviceData, len(req.Objects))
	var wg sync.WaitGroup
	for i, obj := range req.Objects {
		wg.Add(1)
		go func(i int, obj ScanObject) {
			defer wg.Done()
			results[i] = h.processObject(ctx, obj, secureOnly)
		}(i, obj)
	}
	wg.Wait()

	metadata := make([]DeviceData, 0, len(results))
	for _, dd := range results {
		if dd != nil {
			metadata = append(metadata, *dd)
		}
	}
	RankEntries(metadata)
	writeJSON(w, ScanResponse{Metadata: metadata})
}

// processObject runs the full per-URL pipeline described in §4.8, steps
// 1-7. A nil return means "omit this entry from the response".
func (h *Handler) processObject(ctx context.Context, obj ScanObject, secureOnly bool) *DeviceData {
	if obj.URL == "" {
		return nil
	}
	parsed, err := url.Parse(obj.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil
	}

	distance, hasDist := Distance(obj.RSSI, obj.TxPower)
	var distPtr *float64
	if hasDist {
		distPtr = &distance
	}

	rec, err := h.resolver.Resolve(ctx, obj.URL, distPtr, obj.Force)
	if err != nil {
		h.log.Warn().Err(err).Str("url", obj.URL).Msg("resolve failed, dropping from response")
		return nil
	}
	if rec == nil {
		return nil
	}

	finalURL, err := withCarriedFragment(rec.URL, parsed.Fragment)
	if err != nil {
		h.log.Warn().Err(err).Str("url", rec.URL).Msg("could not rebuild resolved url")
		return nil
	}
	finalParsed, err := url.Parse(finalURL)
	if err != nil {
		return nil
	}
	if secureOnly && finalParsed.Scheme != "https" {
		return nil
	}

	dd := &DeviceData{
		ID:         obj.URL,
		URL:        finalURL,
		DisplayURL: finalURL,
		Title:      rec.Title,
		Description: rec.Description,
		distance:   distance,
		hasDist:    hasDist,
	}
	if rec.FaviconURL != "" {
		dd.Icon = h.rewriteIconURL(rec.FaviconURL)
	}
	if rec.JSONLDs != "" {
		var arr []any
		if err := json.Unmarshal([]byte(rec.JSONLDs), &arr); err == nil {
			dd.JSONLD = arr
		}
	}
	if gid, err := computeGroupID(finalURL, rec.Title, rec.Description); err == nil {
		dd.GroupID = gid
	} else {
		h.log.Warn().Err(err).Str("url", finalURL).Msg("groupid computation failed, omitted")
	}
	return dd
}

// withCarriedFragment reassembles finalURL with fragment carried over from
// the original input URL when finalURL doesn't already have one (§4.8 step 5).
func withCarriedFragment(finalURL, inputFragment string) (string, error) {
	u, err := url.Parse(finalURL)
	if err != nil {
		return "", err
	}
	if u.Fragment == "" && inputFragment != "" {
		u.Fragment = inputFragment
	}
	return u.String(), nil
}

// rewriteIconURL points the emitted icon at this service's own favicon
// relay, so clients never fetch third-party origins directly (§4.8).
func (h *Handler) rewriteIconURL(iconURL string) string {
	v := url.Values{}
	v.Set("url", iconURL)
	return "/favicon?" + v.Encode()
}

type refreshURLArgs struct {
	URL string `flag:"url"`
}

func (h *Handler) refreshURL(w http.ResponseWriter, r *http.Request) {
	var args refreshURLArgs
	if err := httpflags.Parse(&args, r); err != nil || args.URL == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	h.refresh.Enqueue(r.Context(), args.URL)
	w.WriteHeader(http.StatusOK)
}

type urlArg struct {
	URL string `flag:"url"`
}

func (h *Handler) favicon(w http.ResponseWriter, r *http.Request) {
	var args urlArg
	if err := httpflags.Parse(&args, r); err != nil || args.URL == "" {
		http.NotFound(w, r)
		return
	}
	known, err := h.store.QueryByFaviconURL(r.Context(), args.URL)
	if err != nil || !known {
		http.NotFound(w, r)
		return
	}
	fr, err := h.fetcher.Fetch(r.Context(), args.URL, nil)
	if err != nil || fr.StatusCode != http.StatusOK {
		http.NotFound(w, r)
		return
	}
	if ct := fr.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Write(fr.Body)
}

func (h *Handler) goRedirect(w http.ResponseWriter, r *http.Request) {
	var args urlArg
	if err := httpflags.Parse(&args, r); err != nil || args.URL == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, args.URL, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
