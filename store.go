package physicalweb

import (
	"context"
	"sync"
	"time"
)

// MetadataStore is the durable keyed record store described in §4.1: one
// SiteRecord per canonical URL, with atomic per-key operations. There are no
// cross-key transactions and no ordering guarantees between keys.
type MetadataStore interface {
	// GetByKey returns the record for key, or ok=false if absent.
	GetByKey(ctx context.Context, key string) (rec SiteRecord, ok bool, err error)

	// Upsert creates a record for key if absent, otherwise overwrites the
	// fields in UpsertFields and bumps UpdatedOn. Either way it returns the
	// resulting record.
	Upsert(ctx context.Context, key string, fields UpsertFields) (SiteRecord, error)

	// Touch bumps UpdatedOn for key without changing any other field. It
	// returns ErrNotFound if key is absent.
	Touch(ctx context.Context, key string) (SiteRecord, error)

	// Delete removes the record for key, if any. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// QueryByFaviconURL reports whether any stored record has exactly this
	// FaviconURL. Used by the favicon relay to avoid proxying arbitrary
	// third-party URLs that were never actually extracted from a page.
	QueryByFaviconURL(ctx context.Context, faviconURL string) (bool, error)
}

// memoryStore is a mutex-guarded map implementation of MetadataStore. It is
// the default used by tests, and is a complete reference implementation of
// the contract an external persistent backend (see sqliteStore) must honor.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]SiteRecord
	now     func() time.Time
}

// NewMemoryStore returns a MetadataStore backed by an in-process map. It
// never persists across restarts; use NewSQLiteStore for that.
func NewMemoryStore() MetadataStore {
	return &memoryStore{records: make(map[string]SiteRecord), now: time.Now}
}

func (s *memoryStore) GetByKey(_ context.Context, key string) (SiteRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *memoryStore) Upsert(_ context.Context, key string, f UpsertFields) (SiteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	rec, existed := s.records[key]
	if !existed {
		rec = SiteRecord{Key: key, AddedOn: now}
	}
	rec.URL = f.URL
	rec.Title = f.Title
	rec.Description = f.Description
	rec.FaviconURL = f.FaviconURL
	rec.JSONLDs = f.JSONLDs
	rec.UpdatedOn = now
	s.records[key] = rec
	return rec, nil
}

func (s *memoryStore) Touch(_ context.Context, key string) (SiteRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return SiteRecord{}, ErrNotFound
	}
	rec.UpdatedOn = s.now()
	s.records[key] = rec
	return rec, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *memoryStore) QueryByFaviconURL(_ context.Context, faviconURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.FaviconURL == faviconURL {
			return true, nil
		}
	}
	return false, nil
}
