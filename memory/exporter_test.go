package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExporter_JSONRoundTrip(t *testing.T) {
	src := newTestStore(t)
	e := seedEntry("a", "bug_fix", Content{"fix": "retry"}, 2)
	e.Tags = []string{"go"}
	e.HitCount = 3
	src.Add(e)
	src.Add(seedEntry("b", "schema_drift", Content{"class_name": "User"}, 0))

	path := filepath.Join(t.TempDir(), "export", "memory.json")
	require.NoError(t, NewMemoryExporter(src, zap.NewNop()).ExportJSON(path))

	t.Run("envelope carries metadata", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var env struct {
			Metadata ExportMetadata `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, "1.0", env.Metadata.Version)
		assert.Equal(t, 2, env.Metadata.EntryCount)
		assert.Equal(t, testClock().Format(time.RFC3339), env.Metadata.ExportedAt)
	})

	t.Run("import restores every field", func(t *testing.T) {
		dst := newTestStore(t)
		n, err := NewMemoryExporter(dst, zap.NewNop()).ImportJSON(path, false)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, ok := dst.Get("a")
		require.True(t, ok)
		assert.Equal(t, "retry", got.StringField("fix"))
		assert.Equal(t, []string{"go"}, got.Tags)
		assert.Equal(t, 3, got.HitCount)
	})
}

func TestExporter_YAMLRoundTrip(t *testing.T) {
	src := newTestStore(t)
	src.Add(seedEntry("a", "bug_fix", Content{"fix": "retry"}, 1))

	path := filepath.Join(t.TempDir(), "memory.yaml")
	require.NoError(t, NewMemoryExporter(src, zap.NewNop()).ExportYAML(path))

	dst := newTestStore(t)
	n, err := NewMemoryExporter(dst, zap.NewNop()).ImportYAML(path, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := dst.Get("a")
	require.True(t, ok)
	assert.Equal(t, "bug_fix", got.Category)
	assert.Equal(t, "retry", got.StringField("fix"))
}

func TestExporter_ImportMergeVsReplace(t *testing.T) {
	src := newTestStore(t)
	src.Add(seedEntry("shared", "bug_fix", Content{"fix": "imported version"}, 0))
	src.Add(seedEntry("incoming", "bug_fix", nil, 0))
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, NewMemoryExporter(src, zap.NewNop()).ExportJSON(path))

	t.Run("merge keeps existing entries, imported wins collisions", func(t *testing.T) {
		dst := newTestStore(t)
		dst.Add(seedEntry("shared", "bug_fix", Content{"fix": "local version"}, 0))
		dst.Add(seedEntry("local_only", "bug_fix", nil, 0))

		n, err := NewMemoryExporter(dst, zap.NewNop()).ImportJSON(path, false)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 3, dst.Len())

		got, _ := dst.Get("shared")
		assert.Equal(t, "imported version", got.StringField("fix"))
		_, ok := dst.Get("local_only")
		assert.True(t, ok)
	})

	t.Run("replace empties the store first", func(t *testing.T) {
		dst := newTestStore(t)
		dst.Add(seedEntry("local_only", "bug_fix", nil, 0))
		dst.Query(QueryFilter{})

		n, err := NewMemoryExporter(dst, zap.NewNop()).ImportJSON(path, true)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 2, dst.Len())

		_, ok := dst.Get("local_only")
		assert.False(t, ok)
		assert.Zero(t, dst.Stats().TotalQueries, "replace resets usage counters")
	})
}

func TestExporter_ImportErrors(t *testing.T) {
	dst := newTestStore(t)
	x := NewMemoryExporter(dst, zap.NewNop())

	t.Run("missing file", func(t *testing.T) {
		_, err := x.ImportJSON(filepath.Join(t.TempDir(), "absent.json"), false)
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))
		_, err := x.ImportJSON(path, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("entries: [\n"), 0644))
		_, err := x.ImportYAML(path, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("a failed import leaves the store untouched", func(t *testing.T) {
		dst.Add(seedEntry("a", "bug_fix", nil, 0))
		_, err := x.ImportJSON(filepath.Join(t.TempDir(), "absent.json"), true)
		require.Error(t, err)
		assert.Equal(t, 1, dst.Len())
	})

	t.Run("entries without ids are skipped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "noid.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"metadata": {"version": "1.0", "entry_count": 2},
			"entries": [{"category": "bug_fix"}, {"id": "ok", "category": "bug_fix"}]
		}`), 0644))
		fresh := newTestStore(t)
		n, err := NewMemoryExporter(fresh, zap.NewNop()).ImportJSON(path, false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}
