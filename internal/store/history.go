package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scanforge/internal/types"
)

// Transformation is one recorded transform call.
type Transformation struct {
	RunID              string
	SourceHash         string
	ProposedName       string
	ClassName          string
	PatternType        string
	Strategy           string
	FinalState         string
	Success            bool
	Attempts           int
	CorrectionsApplied int
	DurationMS         int64
	Errors             []string
	Metadata           map[string]any
	GeneratedCode      string
	CreatedAt          time.Time
}

// SourceHash identifies a source text.
func SourceHash(src []byte) string {
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// RecordTransformation stores a finished result. The run id comes from the
// result metadata.
func (s *Store) RecordTransformation(ctx context.Context, source []byte, proposedName string, res *types.TransformationResult) error {
	if res == nil {
		return errors.New("nil transformation result")
	}
	runID := metaString(res.Metadata, "run_id")
	if runID == "" {
		return errors.New("transformation result has no run_id")
	}
	errs, err := json.Marshal(res.Errors)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}
	meta, err := json.Marshal(res.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	var code sql.NullString
	if res.GeneratedCode != nil {
		code = sql.NullString{String: *res.GeneratedCode, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transformations (
			run_id, source_hash, proposed_name, class_name, pattern_type, strategy,
			success, attempts, corrections_applied, errors_json, metadata_json,
			generated_code, final_state, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, SourceHash(source), proposedName,
		metaString(res.Metadata, "class_name"),
		metaString(res.Metadata, "pattern_type"),
		metaString(res.Metadata, "strategy"),
		res.Success, metaInt(res.Metadata, "attempts"), res.CorrectionsApplied,
		string(errs), string(meta), code,
		metaString(res.Metadata, "final_state"), metaInt(res.Metadata, "duration_ms"),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record transformation: %w", err)
	}
	return nil
}

const transformationColumns = `run_id, source_hash, COALESCE(proposed_name, ''), COALESCE(class_name, ''),
	COALESCE(pattern_type, ''), COALESCE(strategy, ''), COALESCE(final_state, ''), success, attempts,
	corrections_applied, COALESCE(duration_ms, 0), errors_json, metadata_json, COALESCE(generated_code, ''), created_at`

// ListTransformations returns the most recent transformations, newest first.
func (s *Store) ListTransformations(ctx context.Context, limit int) ([]Transformation, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transformationColumns+" FROM transformations ORDER BY rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list transformations: %w", err)
	}
	defer rows.Close()

	var out []Transformation
	for rows.Next() {
		t, err := scanTransformation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTransformation loads one transformation by run id.
func (s *Store) GetTransformation(ctx context.Context, runID string) (*Transformation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+transformationColumns+" FROM transformations WHERE run_id = ?", runID)
	t, err := scanTransformation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transformation %s not found", runID)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransformation(sc scanner) (Transformation, error) {
	var t Transformation
	var errs, meta string
	err := sc.Scan(&t.RunID, &t.SourceHash, &t.ProposedName, &t.ClassName, &t.PatternType, &t.Strategy,
		&t.FinalState, &t.Success, &t.Attempts, &t.CorrectionsApplied, &t.DurationMS,
		&errs, &meta, &t.GeneratedCode, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(errs), &t.Errors); err != nil {
		return t, fmt.Errorf("decode errors for %s: %w", t.RunID, err)
	}
	if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
		return t, fmt.Errorf("decode metadata for %s: %w", t.RunID, err)
	}
	return t, nil
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func metaInt(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}
