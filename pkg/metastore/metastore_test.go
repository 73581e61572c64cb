package metastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "documents.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestEnsureCreatesOnce(t *testing.T) {
	s, _ := openStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	created, err := s.Ensure("notes", t0)
	require.NoError(t, err)
	assert.Equal(t, t0, created.CreatedAt)
	assert.Equal(t, t0, created.UpdatedAt)

	// second ensure returns the existing record unchanged
	again, err := s.Ensure("notes", t1)
	require.NoError(t, err)
	assert.Equal(t, created, again)
}

func TestTouchRefreshesUpdatedAt(t *testing.T) {
	s, _ := openStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	_, err := s.Ensure("notes", t0)
	require.NoError(t, err)
	require.NoError(t, s.Touch("notes", t1))

	record, ok := s.Get("notes")
	require.True(t, ok)
	assert.Equal(t, t0, record.CreatedAt)
	assert.Equal(t, t1, record.UpdatedAt)
}

func TestTouchCreatesWhenAbsent(t *testing.T) {
	s, _ := openStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Touch("fresh", t0))
	record, ok := s.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, t0, record.CreatedAt)
	assert.Equal(t, t0, record.UpdatedAt)
}

func TestRenamePreservesCreatedAt(t *testing.T) {
	s, _ := openStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	_, err := s.Ensure("a", t0)
	require.NoError(t, err)
	require.NoError(t, s.Rename("a", "b", t1))

	_, ok := s.Get("a")
	assert.False(t, ok)
	record, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, t0, record.CreatedAt)
	assert.Equal(t, t1, record.UpdatedAt)
}

func TestRenameSynthesizesMissingSource(t *testing.T) {
	s, _ := openStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Rename("missing", "b", t0))
	record, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, t0, record.CreatedAt)
	assert.Equal(t, t0, record.UpdatedAt)
}

func TestRemove(t *testing.T) {
	s, _ := openStore(t)
	_, err := s.Ensure("notes", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, s.Remove("notes"))
	_, ok := s.Get("notes")
	assert.False(t, ok)
	require.NoError(t, s.Remove("notes"), "removing an absent record is a no-op")
}

func TestPersistsAcrossReopen(t *testing.T) {
	s, path := openStore(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.Ensure("notes", t0)
	require.NoError(t, err)

	reopened, err := Open(path)
	require.NoError(t, err)
	record, ok := reopened.Get("notes")
	require.True(t, ok)
	assert.Equal(t, t0, record.CreatedAt)
}
