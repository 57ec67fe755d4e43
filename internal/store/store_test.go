package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cigraph/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testGraph(t *testing.T, env, version string) *ir.Graph {
	t.Helper()
	ctx, err := ir.NewContext(ir.ContextInput{Environment: env, Version: version, Trigger: ir.TriggerManual})
	require.NoError(t, err)
	return &ir.Graph{
		Name:    "release",
		Context: ctx,
		Jobs: []ir.Job{
			{ID: "build", Uses: "./.github/workflows/build.yml"},
			{ID: "set-pipeline-exit-status", Needs: []string{"build"}, If: "always()"},
		},
		Terminal:   "set-pipeline-exit-status",
		Conclusion: []string{"build"},
	}
}

// =============================================================================
// Open
// =============================================================================

func TestOpenAppliesPragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "2"))
}

func TestOpenMigratesV1Ledger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE expansions (
			id TEXT PRIMARY KEY,
			template TEXT NOT NULL,
			context_key TEXT NOT NULL,
			context_json TEXT NOT NULL,
			digest TEXT NOT NULL,
			graph_digest TEXT NOT NULL,
			document BLOB NOT NULL,
			created_seq INTEGER NOT NULL UNIQUE
		);
		CREATE INDEX idx_expansions_lookup ON expansions(template, context_key, created_seq);
		INSERT INTO expansions VALUES ('old', 'release', 'k', '{"environment":"staging","version":"1.0","release_candidate":false,"trigger":"push"}', 'd', 'g', x'00', 1);
		PRAGMA user_version = 1;
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.verifyPragma("user_version", "2"))

	old, err := s.Get(context.Background(), "old")
	require.NoError(t, err)
	assert.Empty(t, old.OptionsKey)

	latest, err := s.Latest(context.Background(), "release", "k", "")
	require.NoError(t, err)
	assert.Equal(t, "old", latest.ID)
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Record(context.Background(), "release", testGraph(t, "staging", "3.0.0"), []byte("doc"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	entries, err := s2.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "reopening must keep existing entries")
}

func TestCloseNil(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

// =============================================================================
// Record / Get / Latest / List
// =============================================================================

func TestRecordAndGet(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(NewFixedGenerator("exp-1")))
	ctx := context.Background()
	graph := testGraph(t, "nightly", "3006.1-0-rc1")
	doc := []byte("name: release\n")

	entry, err := s.Record(ctx, "builtin:release", graph, doc)
	require.NoError(t, err)
	assert.Equal(t, "exp-1", entry.ID)
	assert.Equal(t, int64(1), entry.Seq)
	assert.Equal(t, ir.DocumentDigest(doc), entry.Digest)
	assert.Equal(t, ir.MustGraphDigest(graph), entry.GraphDigest)
	assert.Equal(t, graph.Context.Key(), entry.ContextKey)

	got, err := s.Get(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, entry, got)
	assert.True(t, got.Context.ReleaseCandidate)
	assert.Equal(t, doc, got.Document)
}

func TestGetNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordAssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(NewFixedGenerator("a", "b", "c")))
	ctx := context.Background()

	for i := range 3 {
		entry, err := s.Record(ctx, "release", testGraph(t, "staging", "3.0.0"), []byte("doc"))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), entry.Seq)
	}
}

func TestRecordDuplicateID(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(NewFixedGenerator("same", "same")))
	ctx := context.Background()

	_, err := s.Record(ctx, "release", testGraph(t, "staging", "3.0.0"), []byte("doc"))
	require.NoError(t, err)
	_, err = s.Record(ctx, "release", testGraph(t, "staging", "3.0.0"), []byte("doc"))
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(NewFixedGenerator("a", "b", "c")))
	ctx := context.Background()
	staging := testGraph(t, "staging", "3.0.0")
	nightly := testGraph(t, "nightly", "3.0.0")

	_, err := s.Record(ctx, "release", staging, []byte("v1"))
	require.NoError(t, err)
	_, err = s.Record(ctx, "release", nightly, []byte("nightly"))
	require.NoError(t, err)
	_, err = s.Record(ctx, "release", staging, []byte("v2"))
	require.NoError(t, err)

	latest, err := s.Latest(ctx, "release", staging.Context.Key(), "")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)
	assert.Equal(t, []byte("v2"), latest.Document)

	_, err = s.Latest(ctx, "other", staging.Context.Key(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(NewFixedGenerator("a", "b", "c")))
	ctx := context.Background()

	empty, err := s.List(ctx, 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for range 3 {
		_, err := s.Record(ctx, "release", testGraph(t, "staging", "3.0.0"), []byte("doc"))
		require.NoError(t, err)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

// =============================================================================
// VerifyDeterminism
// =============================================================================

func TestVerifyDeterminism(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(NewFixedGenerator("first")))
	ctx := context.Background()
	graph := testGraph(t, "staging", "3.0.0")

	// Nothing recorded yet.
	require.NoError(t, s.VerifyDeterminism(ctx, "release", graph.Context, "", []byte("doc")))

	_, err := s.Record(ctx, "release", graph, []byte("doc"))
	require.NoError(t, err)

	assert.NoError(t, s.VerifyDeterminism(ctx, "release", graph.Context, "", []byte("doc")))

	err = s.VerifyDeterminism(ctx, "release", graph.Context, "", []byte("changed"))
	var drift *Drift
	require.True(t, errors.As(err, &drift))
	assert.Equal(t, "first", drift.Previous.ID)
	assert.Equal(t, ir.DocumentDigest([]byte("changed")), drift.Digest)
	assert.Contains(t, err.Error(), `template "release"`)

	// A different context is a different key.
	other := testGraph(t, "nightly", "3.0.0")
	assert.NoError(t, s.VerifyDeterminism(ctx, "release", other.Context, "", []byte("changed")))
}

func TestVerifyDeterminismSeparatesOptions(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(NewFixedGenerator("reusable", "self-hosted")))
	ctx := context.Background()
	graph := testGraph(t, "staging", "3.0.0")

	entry, err := s.Record(ctx, "release", graph, []byte("reusable doc"), WithOptionsKey("opts-a"))
	require.NoError(t, err)
	assert.Equal(t, "opts-a", entry.OptionsKey)

	// Different settings: nothing to compare against.
	assert.NoError(t, s.VerifyDeterminism(ctx, "release", graph.Context, "opts-b", []byte("self-hosted doc")))

	_, err = s.Record(ctx, "release", graph, []byte("self-hosted doc"), WithOptionsKey("opts-b"))
	require.NoError(t, err)

	// Same settings, same document.
	assert.NoError(t, s.VerifyDeterminism(ctx, "release", graph.Context, "opts-a", []byte("reusable doc")))

	err = s.VerifyDeterminism(ctx, "release", graph.Context, "opts-a", []byte("changed"))
	var drift *Drift
	require.True(t, errors.As(err, &drift))
	assert.Equal(t, "reusable", drift.Previous.ID)

	stored, err := s.Get(ctx, "self-hosted")
	require.NoError(t, err)
	assert.Equal(t, "opts-b", stored.OptionsKey)
}

// =============================================================================
// ID generators
// =============================================================================

func TestUUIDv7Generator(t *testing.T) {
	id := UUIDv7Generator{}.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, id, UUIDv7Generator{}.Generate())
}

func TestFixedGeneratorExhausted(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
