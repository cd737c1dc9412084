package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scanforge/internal/logging"
	"scanforge/internal/types"
)

// GetExtraction returns a cached specification and the backend that produced it.
func (s *Store) GetExtraction(ctx context.Context, key string) (*types.StrategySpecification, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var backend, raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT backend, spec_json FROM extraction_cache WHERE cache_key = ?", key,
	).Scan(&backend, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("read extraction cache: %w", err)
	}

	var spec types.StrategySpecification
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return nil, "", false, fmt.Errorf("decode cached specification: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE extraction_cache SET hits = hits + 1, last_hit_at = ? WHERE cache_key = ?",
		time.Now().UTC(), key,
	); err != nil {
		logging.StoreDebug("cache hit bookkeeping failed: %v", err)
	}
	return &spec, backend, true, nil
}

// PutExtraction stores a specification, replacing any previous entry.
func (s *Store) PutExtraction(ctx context.Context, key, backend string, spec *types.StrategySpecification) error {
	if spec == nil {
		return errors.New("nil specification")
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode specification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_cache (cache_key, backend, spec_json, hits, created_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(cache_key) DO UPDATE SET backend = excluded.backend, spec_json = excluded.spec_json, created_at = excluded.created_at`,
		key, backend, string(raw), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write extraction cache: %w", err)
	}
	logging.StoreDebug("cached extraction %s from %s", short(key), backend)
	return nil
}

// PurgeExtractions deletes cache entries older than maxAge and returns how many went.
func (s *Store) PurgeExtractions(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM extraction_cache WHERE created_at < ?", time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("purge extraction cache: %w", err)
	}
	return res.RowsAffected()
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
