package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"
)

// CacheEntry is one persisted upstream search response. Entries are
// append-only; freshness decisions happen in the cache layer and
// expired rows are removed by the retention job.
type CacheEntry struct {
	ID          int64
	QueryDigest string
	Query       json.RawMessage
	Response    json.RawMessage
	CreatedAt   time.Time
	ExpireAt    time.Time
}

// Store wraps access to the database through a shared *sql.DB.
type Store struct {
	DB *sql.DB
}

// New creates a Store on a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// InsertCacheEntry appends a new cache row.
func (s *Store) InsertCacheEntry(ctx context.Context, e *CacheEntry) error {
	query := pqtype.NullRawMessage{RawMessage: e.Query, Valid: len(e.Query) > 0}
	response := pqtype.NullRawMessage{RawMessage: e.Response, Valid: len(e.Response) > 0}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO search_cache (query_digest, query, response, created_at, expire_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.QueryDigest, query, response, e.CreatedAt.UTC(), e.ExpireAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}

// LatestCacheEntry returns the most recent entry for a digest, or
// (nil, nil) when none exists.
func (s *Store) LatestCacheEntry(ctx context.Context, digest string) (*CacheEntry, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, query_digest, query, response, created_at, expire_at
		FROM search_cache
		WHERE query_digest = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		digest,
	)

	var e CacheEntry
	var query, response pqtype.NullRawMessage
	err := row.Scan(&e.ID, &e.QueryDigest, &query, &response, &e.CreatedAt, &e.ExpireAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup cache entry: %w", err)
	}
	if query.Valid {
		e.Query = query.RawMessage
	}
	if response.Valid {
		e.Response = response.RawMessage
	}
	return &e, nil
}

// DeleteExpiredCacheEntries removes rows past their expiry and returns
// the number deleted.
func (s *Store) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM search_cache WHERE expire_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
