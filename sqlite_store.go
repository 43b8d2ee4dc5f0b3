package physicalweb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS site_records (
	key         TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	favicon_url TEXT NOT NULL DEFAULT '',
	jsonlds     TEXT NOT NULL DEFAULT '',
	added_on    INTEGER NOT NULL,
	updated_on  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS site_records_favicon_url ON site_records(favicon_url);
`

// sqliteStore is the durable MetadataStore backend, a single table keyed by
// the input URL. SQLite only tolerates one writer at a time, so the pool is
// pinned to a single connection; reads and writes alike serialize through it,
// which keeps Upsert/Touch atomic without any extra locking in Go.
type sqliteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if absent) a durable MetadataStore at path.
// Use ":memory:" for an ephemeral database that still exercises the real
// SQL path, e.g. in integration tests.
func NewSQLiteStore(path string) (MetadataStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &sqliteStore{db: db, now: time.Now}, nil
}

func (s *sqliteStore) GetByKey(ctx context.Context, key string) (SiteRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, url, title, description, favicon_url, jsonlds, added_on, updated_on
		FROM site_records WHERE key = ?`, key)
	rec, err := scanSiteRecord(row)
	if err == sql.ErrNoRows {
		return SiteRecord{}, false, nil
	}
	if err != nil {
		return SiteRecord{}, false, fmt.Errorf("get %q: %w", key, err)
	}
	return rec, true, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, key string, f UpsertFields) (SiteRecord, error) {
	now := s.now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_records (key, url, title, description, favicon_url, jsonlds, added_on, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			description = excluded.description,
			favicon_url = excluded.favicon_url,
			jsonlds = excluded.jsonlds,
			updated_on = excluded.updated_on`,
		key, f.URL, f.Title, f.Description, f.FaviconURL, f.JSONLDs, now, now)
	if err != nil {
		return SiteRecord{}, fmt.Errorf("upsert %q: %w", key, err)
	}
	rec, ok, err := s.GetByKey(ctx, key)
	if err != nil {
		return SiteRecord{}, err
	}
	if !ok {
		return SiteRecord{}, fmt.Errorf("upsert %q: record missing immediately after write", key)
	}
	return rec, nil
}

func (s *sqliteStore) Touch(ctx context.Context, key string) (SiteRecord, error) {
	now := s.now().UnixNano()
	res, err := s.db.ExecContext(ctx, `UPDATE site_records SET updated_on = ? WHERE key = ?`, now, key)
	if err != nil {
		return SiteRecord{}, fmt.Errorf("touch %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return SiteRecord{}, fmt.Errorf("touch %q: %w", key, err)
	}
	if n == 0 {
		return SiteRecord{}, ErrNotFound
	}
	rec, _, err := s.GetByKey(ctx, key)
	return rec, err
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM site_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *sqliteStore) QueryByFaviconURL(ctx context.Context, faviconURL string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM site_records WHERE favicon_url = ?`, faviconURL).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query favicon %q: %w", faviconURL, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSiteRecord(row rowScanner) (SiteRecord, error) {
	var rec SiteRecord
	var addedNanos, updatedNanos int64
	err := row.Scan(&rec.Key, &rec.URL, &rec.Title, &rec.Description, &rec.FaviconURL, &rec.JSONLDs,
		&addedNanos, &updatedNanos)
	if err != nil {
		return SiteRecord{}, err
	}
	rec.AddedOn = time.Unix(0, addedNanos)
	rec.UpdatedOn = time.Unix(0, updatedNanos)
	return rec, nil
}
