package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"scanforge/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "scanforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTemp(t)
	assert.FileExists(t, s.Path())
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.db))
	assert.True(t, columnExists(s.db, "transformations", "final_state"))
	assert.True(t, columnExists(s.db, "transformations", "duration_ms"))

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"extraction_cache": 0, "transformations": 0}, stats)
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanforge.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.db))
}

func TestOpenUpgradesVersionOneDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
	CREATE TABLE transformations (
		run_id TEXT PRIMARY KEY,
		source_hash TEXT NOT NULL,
		proposed_name TEXT,
		class_name TEXT,
		pattern_type TEXT,
		strategy TEXT,
		success INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		corrections_applied INTEGER NOT NULL DEFAULT 0,
		errors_json TEXT NOT NULL DEFAULT '[]',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		generated_code TEXT,
		created_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO transformations (run_id, source_hash, class_name, success, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, "old-run", "abc", "GapScanner", 1, 2, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, GetSchemaVersion(db))
	require.False(t, columnExists(db, "transformations", "final_state"))
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.db))
	assert.True(t, columnExists(s.db, "transformations", "final_state"))
	assert.True(t, columnExists(s.db, "transformations", "duration_ms"))

	got, err := s.GetTransformation(context.Background(), "old-run")
	require.NoError(t, err)
	assert.Equal(t, "GapScanner", got.ClassName)
	assert.Equal(t, "", got.FinalState)
	assert.Equal(t, int64(0), got.DurationMS)
	assert.Equal(t, 2, got.Attempts)
	assert.Empty(t, got.Errors)
}

func TestExtractionCacheRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, _, ok, err := s.GetExtraction(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	spec := &types.StrategySpecification{
		Name:            "Gap Go",
		EntryConditions: []string{"gap >= 4%"},
		Parameters:      map[string]any{"min_gap": 0.04},
		ScanKind:        "daily",
	}
	require.NoError(t, s.PutExtraction(ctx, "k1", "gemini", spec))

	got, backend, ok, err := s.GetExtraction(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "gemini", backend)
	if diff := cmp.Diff(spec, got); diff != "" {
		t.Errorf("cached spec mismatch (-want +got):\n%s", diff)
	}

	spec.Name = "Gap Go v2"
	require.NoError(t, s.PutExtraction(ctx, "k1", "anthropic", spec))
	got, backend, _, err = s.GetExtraction(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", backend)
	assert.Equal(t, "Gap Go v2", got.Name)

	n, err := s.PurgeExtractions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.PurgeExtractions(ctx, -time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRecordAndListTransformations(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	code := "class GapScanner:\n    pass\n"
	ok := &types.TransformationResult{
		Success:       true,
		GeneratedCode: &code,
		Metadata: map[string]any{
			"run_id": "run-1", "class_name": "GapScanner", "pattern_type": "standalone",
			"strategy": "hybrid_preserve", "attempts": 1, "final_state": "success", "duration_ms": int64(12),
		},
		Errors: []string{},
	}
	failed := &types.TransformationResult{
		Metadata:           map[string]any{"run_id": "run-2", "pattern_type": "generic"},
		Errors:             []string{"extraction timed out (gemini)"},
		CorrectionsApplied: 0,
	}
	require.NoError(t, s.RecordTransformation(ctx, []byte("src-a"), "gap", ok))
	require.NoError(t, s.RecordTransformation(ctx, []byte("src-b"), "", failed))

	list, err := s.ListTransformations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run-2", list[0].RunID)
	assert.Equal(t, "run-1", list[1].RunID)

	got, err := s.GetTransformation(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, "GapScanner", got.ClassName)
	assert.Equal(t, "hybrid_preserve", got.Strategy)
	assert.Equal(t, "success", got.FinalState)
	assert.Equal(t, 1, got.Attempts)
	assert.EqualValues(t, 12, got.DurationMS)
	assert.Equal(t, code, got.GeneratedCode)
	assert.Equal(t, SourceHash([]byte("src-a")), got.SourceHash)
	assert.Empty(t, got.Errors)

	got, err = s.GetTransformation(ctx, "run-2")
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Empty(t, got.GeneratedCode)
	assert.Equal(t, []string{"extraction timed out (gemini)"}, got.Errors)

	_, err = s.GetTransformation(ctx, "nope")
	assert.Error(t, err)
}

func TestRecordRequiresRunID(t *testing.T) {
	s := openTemp(t)
	err := s.RecordTransformation(context.Background(), nil, "", &types.TransformationResult{Metadata: map[string]any{}})
	assert.Error(t, err)
}
