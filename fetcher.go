package physicalweb

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/physical-web/resolver/internal/useragent"
)

// DefaultFetchTimeout bounds a single Fetcher.Fetch call so one slow origin
// cannot block a scan indefinitely (§5).
const DefaultFetchTimeout = 10 * time.Second

// distanceHeader carries the experimental distance hint (§4.6, §6).
const distanceHeader = "X-PhysicalWeb-Distance"

// DefaultMaxFetchBody caps how much of a response body Fetcher reads, to
// bound memory use against huge or slow-to-terminate responses.
const DefaultMaxFetchBody = 1 << 20 // 1 MiB

// FetchResult is the raw result of a single, non-redirect-following GET.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string // the URL actually requested, since redirects are not followed
}

// Fetcher performs the single GET described in §4.2: no automatic redirect
// following, TLS validated, a configured User-Agent, and, when experimental
// mode is enabled and a distance hint is supplied, an extra header carrying
// it. The Fetcher never interprets status codes; that is the Resolver's job.
type Fetcher struct {
	client       *http.Client
	experimental bool
	maxBody      int64
}

// NewFetcher builds a Fetcher with a transport tuned the way this service's
// background refreshes and request-triggered lookups both need: bounded
// connect/idle/TLS-handshake timeouts, and redirects disabled so the
// Resolver can see (and cache-invalidate on) each hop itself.
func NewFetcher(userAgent string, experimental bool) *Fetcher {
	transport := useragent.Set(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}, userAgent)
	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   DefaultFetchTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		experimental: experimental,
		maxBody:      DefaultMaxFetchBody,
	}
}

// Fetch performs the GET. distance is only attached as a header when the
// Fetcher was built with experimental=true and distance is non-nil (§4.6).
// Transport, DNS, and TLS failures all surface as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, distance *float64) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if f.experimental && distance != nil {
		req.Header.Set(distanceHeader, strconv.FormatFloat(*distance, 'g', -1, 64))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return &FetchResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FinalURL:   rawURL,
	}, nil
}
