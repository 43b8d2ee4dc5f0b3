package physicalweb

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleAfter is the §4.6 cache-freshness window: a hit older than
// this triggers a background refresh but is still returned immediately
// (stale-while-revalidate).
const DefaultStaleAfter = 5 * time.Minute

// DefaultMaxRedirects bounds the redirect-following recursion (§9, Design
// Notes: "an iterative loop with a depth cap (≈10) is the recommended target
// shape"). Go has no tail-call optimization, so this implementation uses
// bounded recursion instead of a loop; the depth cap makes the distinction
// immaterial — recursion never runs deeper than MaxRedirects frames.
const DefaultMaxRedirects = 10

// Resolver orchestrates MetadataStore, Fetcher, and the HTML
// encoding/extraction pipeline: cache policy, redirect recursion, and
// write-through semantics (§4.6).
type Resolver struct {
	store        MetadataStore
	fetcher      *Fetcher
	refresh      *RefreshQueue
	log          zerolog.Logger
	staleAfter   time.Duration
	maxRedirects int

	inFlight singleflight.Group
}

// ResolverOption configures a Resolver at construction time, following the
// same functional-option shape as the rest of this package.
type ResolverOption func(*Resolver)

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithMaxRedirects overrides DefaultMaxRedirects.
func WithMaxRedirects(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxRedirects = n
		}
	}
}

// NewResolver builds a Resolver and wires it into refresh so that stale-hit
// refresh jobs and /refresh-url both end up calling the same forced
// fetch-and-store path.
func NewResolver(store MetadataStore, fetcher *Fetcher, refresh *RefreshQueue, log zerolog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:        store,
		fetcher:      fetcher,
		refresh:      refresh,
		log:          log,
		staleAfter:   DefaultStaleAfter,
		maxRedirects: DefaultMaxRedirects,
	}
	for _, opt := range opts {
		opt(r)
	}
	if refresh != nil {
		refresh.SetResolveFunc(r.ResolveForce)
	}
	return r
}

// Resolve implements the §4.6 state machine for one URL. A nil, nil return
// is the ⊥ outcome (valid URL, no resolvable content — e.g. 204 or 5xx); a
// non-nil error is FailedFetch.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, distance *float64, force bool) (*SiteRecord, error) {
	return r.resolve(ctx, rawURL, distance, force, 0)
}

// ResolveForce is the entry point RefreshQueue uses: always fetches,
// ignoring any cached value, matching §4.7's "call the Fetcher/Extractor
// path with force=true".
func (r *Resolver) ResolveForce(ctx context.Context, rawURL string) (*SiteRecord, error) {
	return r.resolve(ctx, rawURL, nil, true, 0)
}

func (r *Resolver) resolve(ctx context.Context, rawURL string, distance *float64, force bool, depth int) (*SiteRecord, error) {
	if depth > r.maxRedirects {
		return nil, &FetchError{URL: rawURL, Err: errors.New("too many redirects")}
	}
	if !force {
		rec, ok, err := r.store.GetByKey(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if ok {
			age := time.Since(rec.UpdatedOn)
			if age <= r.staleAfter {
				r.log.Debug().Str("url", rawURL).Dur("age", age).Msg("cache hit")
				return &rec, nil
			}
			r.log.Info().Str("url", rawURL).Dur("age", age).Msg("stale hit, queueing refresh")
			// Touch before enqueue so a concurrent caller sees a fresh
			// updated_on and doesn't also enqueue (§4.6, §5). RefreshQueue
			// tracks its own debounce marker separately from updated_on, so
			// this write never makes the worker think a refresh already ran.
			if touched, err := r.store.Touch(ctx, rawURL); err == nil {
				rec = touched
			}
			if r.refresh != nil {
				r.refresh.Enqueue(ctx, rawURL)
			}
			return &rec, nil
		}
	}
	return r.fetchAndStore(ctx, rawURL, distance, force, depth)
}

// fetchAndStore collapses concurrent fetches of the same URL into one
// underlying Fetcher call (§5's fetch-storm protection, on top of the
// touch/debounce guards above), the same role singleflight plays in the
// teacher codebase's request handler.
func (r *Resolver) fetchAndStore(ctx context.Context, rawURL string, distance *float64, force bool, depth int) (*SiteRecord, error) {
	type outcome struct {
		rec *SiteRecord
		err error
	}
	v, _, _ := r.inFlight.Do(rawURL, func() (any, error) {
		defer r.inFlight.Forget(rawURL)
		rec, err := r.doFetch(ctx, rawURL, distance, force, depth)
		return outcome{rec, err}, nil
	})
	out := v.(outcome)
	return out.rec, out.err
}

func (r *Resolver) doFetch(ctx context.Context, rawURL string, distance *float64, force bool, depth int) (*SiteRecord, error) {
	fr, err := r.fetcher.Fetch(ctx, rawURL, distance)
	if err != nil {
		return nil, err
	}
	switch {
	case fr.StatusCode == 200 && len(fr.Body) > 0:
		return r.storeFetchedPage(ctx, rawURL, fr)
	case fr.StatusCode == 204:
		return nil, nil
	case isRedirectStatus(fr.StatusCode):
		return r.followRedirect(ctx, rawURL, fr, distance, force, depth)
	case fr.StatusCode >= 500 && fr.StatusCode < 600:
		return nil, nil
	default:
		return nil, &UnexpectedStatusError{URL: rawURL, Status: fr.StatusCode}
	}
}

func (r *Resolver) storeFetchedPage(ctx context.Context, rawURL string, fr *FetchResult) (*SiteRecord, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	charset := DetectEncoding(fr.Body)
	meta, err := ExtractMetadata(fr.Body, charset, base)
	if err != nil {
		r.log.Warn().Err(err).Str("url", rawURL).Msg("metadata extraction failed, caching bare record")
		meta = PageMetadata{}
	}
	jsonlds := ""
	if len(meta.JSONLDs) > 0 {
		jsonlds = "[" + strings.Join(meta.JSONLDs, ",") + "]"
	}
	rec, err := r.store.Upsert(ctx, rawURL, UpsertFields{
		URL:         rawURL,
		Title:       meta.Title,
		Description: meta.Description,
		FaviconURL:  meta.IconURL,
		JSONLDs:     jsonlds,
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Resolver) followRedirect(ctx context.Context, rawURL string, fr *FetchResult, distance *float64, force bool, depth int) (*SiteRecord, error) {
	loc := fr.Header.Get("Location")
	if loc == "" {
		return nil, &UnexpectedStatusError{URL: rawURL, Status: fr.StatusCode}
	}
	final, err := resolveRedirectTarget(rawURL, loc)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if _, ok, err := r.store.GetByKey(ctx, rawURL); err == nil && ok {
		r.log.Info().Str("url", rawURL).Str("redirect_to", final).Msg("invalidating cache entry for redirect source")
		if err := r.store.Delete(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	return r.resolve(ctx, final, distance, force, depth+1)
}

// resolveRedirectTarget resolves location against rawURL, carrying the
// original fragment forward when the redirect target doesn't supply one
// (§4.6).
func resolveRedirectTarget(rawURL, location string) (string, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	final := base.ResolveReference(loc)
	if final.Fragment == "" && base.Fragment != "" {
		final.Fragment = base.Fragment
	}
	return final.String(), nil
}

func isRedirectStatus(code int) bool {
	switch code {
	case 301, 302, 303, 307, 308:
		return true
	default:
		return false
	}
}
