package physicalweb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestResolver(t *testing.T, srv *httptest.Server, opts ...ResolverOption) (*Resolver, MetadataStore) {
	t.Helper()
	store := NewMemoryStore()
	fetcher := NewFetcher("test-agent", false)
	refresh := NewRefreshQueue(store, zerolog.Nop(), WithRefreshDebounce(0))
	r := NewResolver(store, fetcher, refresh, zerolog.Nop(), opts...)
	_ = srv
	return r, store
}

func TestResolverFetchesAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Example</title></head><body></body></html>`))
	}))
	defer srv.Close()

	r, _ := newTestResolver(t, srv)
	rec, err := r.Resolve(context.Background(), srv.URL, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Example" {
		t.Errorf("Title = %q, want %q", rec.Title, "Example")
	}
}

func TestResolverCacheHitSkipsFetch(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(`<html><head><title>Example</title></head><body></body></html>`))
	}))
	defer srv.Close()

	r, _ := newTestResolver(t, srv)
	ctx := context.Background()
	if _, err := r.Resolve(ctx, srv.URL, nil, false); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(ctx, srv.URL, nil, false); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("origin fetched %d times, want 1 (second call should be a cache hit)", n)
	}
}

func TestResolverStaleHitQueuesRefreshAndReturnsImmediately(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(`<html><head><title>Example</title></head><body></body></html>`))
	}))
	defer srv.Close()

	r, store := newTestResolver(t, srv, WithStaleAfter(time.Nanosecond))
	ctx := context.Background()
	first, err := r.Resolve(ctx, srv.URL, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond) // ensure age exceeds the 1ns staleness window

	second, err := r.Resolve(ctx, srv.URL, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.Title != first.Title {
		t.Errorf("stale hit should still return the cached record immediately")
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&fetches) >= 2 })
	_ = store
}

func TestResolverRedirectInvalidatesSourceKey(t *testing.T) {
	var targetHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/source", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/target", http.StatusFound)
	})
	mux.HandleFunc("/target", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&targetHits, 1)
		w.Write([]byte(`<html><head><title>Target</title></head><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, store := newTestResolver(t, srv)
	ctx := context.Background()
	sourceURL := srv.URL + "/source"

	rec, err := r.Resolve(ctx, sourceURL, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Title != "Target" {
		t.Errorf("Title = %q, want %q", rec.Title, "Target")
	}
	if rec.URL != srv.URL+"/target" {
		t.Errorf("URL = %q, want the redirect target", rec.URL)
	}

	if _, ok, err := store.GetByKey(ctx, sourceURL); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Error("redirect source key should have been deleted, not cached")
	}
	if _, ok, err := store.GetByKey(ctx, srv.URL+"/target"); err != nil || !ok {
		t.Errorf("redirect target key should be cached: ok=%v err=%v", ok, err)
	}
}

func TestResolver204ReturnsNilRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r, _ := newTestResolver(t, srv)
	rec, err := r.Resolve(context.Background(), srv.URL, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("expected nil record for 204, got %+v", rec)
	}
}

func TestResolver5xxReturnsNilRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, _ := newTestResolver(t, srv)
	rec, err := r.Resolve(context.Background(), srv.URL, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("expected nil record for 5xx, got %+v", rec)
	}
}

func TestResolverUnexpectedStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	r, _ := newTestResolver(t, srv)
	_, err := r.Resolve(context.Background(), srv.URL, nil, false)
	if err == nil {
		t.Fatal("expected an error for an unexpected status code")
	}
}

func TestResolverConcurrentFetchesAreCollapsed(t *testing.T) {
	var fetches int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		<-release
		w.Write([]byte(`<html><head><title>Example</title></head><body></body></html>`))
	}))
	defer srv.Close()

	r, _ := newTestResolver(t, srv)
	ctx := context.Background()

	const n = 5
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := r.Resolve(ctx, srv.URL, nil, false)
			results <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	for i := 0; i < n; i++ {
		if err := <-results; err != nil {
			t.Error(err)
		}
	}
	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Errorf("origin fetched %d times concurrently, want 1 (singleflight should collapse)", got)
	}
}
