package lockstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, master string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locks.json")
	s, err := Open(path, master)
	require.NoError(t, err)
	return s, path
}

func TestLockRoundTrip(t *testing.T) {
	s, _ := openStore(t, "")

	assert.False(t, s.IsLocked("notes"))
	assert.True(t, s.Verify("notes", "anything"), "unlocked document is open to anyone")

	require.NoError(t, s.SetPassword("notes", "pw"))
	assert.True(t, s.IsLocked("notes"))
	assert.True(t, s.Verify("notes", "pw"))
	assert.False(t, s.Verify("notes", "wrong"))
	assert.False(t, s.Verify("notes", ""))

	require.NoError(t, s.RemovePassword("notes"))
	assert.False(t, s.IsLocked("notes"))
	assert.True(t, s.Verify("notes", "wrong"), "unlocked again after removal")
}

func TestSaltRotatesOnEverySet(t *testing.T) {
	s, _ := openStore(t, "")
	require.NoError(t, s.SetPassword("notes", "pw"))
	first := s.records["notes"]
	require.NoError(t, s.SetPassword("notes", "pw"))
	second := s.records["notes"]

	assert.NotEqual(t, first.Salt, second.Salt)
	assert.NotEqual(t, first.Hash, second.Hash)
	assert.True(t, s.Verify("notes", "pw"))
}

func TestMasterPasswordOverride(t *testing.T) {
	s, _ := openStore(t, "M")
	require.NoError(t, s.SetPassword("notes", "pw"))

	assert.True(t, s.Verify("notes", "M"), "master satisfies a locked document")
	assert.True(t, s.Verify("unlocked-doc", "M"))
	assert.True(t, s.Verify("notes", "pw"))
	assert.False(t, s.Verify("notes", "wrong"))
}

func TestVerifyMaster(t *testing.T) {
	open, _ := openStore(t, "")
	assert.True(t, open.VerifyMaster(""), "no master password configured: open system")
	assert.True(t, open.VerifyMaster("anything"))

	closed, _ := openStore(t, "M")
	assert.True(t, closed.VerifyMaster("M"))
	assert.False(t, closed.VerifyMaster("m"))
	assert.False(t, closed.VerifyMaster(""))
}

func TestRenameMovesRecord(t *testing.T) {
	s, _ := openStore(t, "")
	require.NoError(t, s.SetPassword("a", "pw"))
	require.NoError(t, s.Rename("a", "b"))

	assert.False(t, s.IsLocked("a"))
	assert.True(t, s.IsLocked("b"))
	assert.True(t, s.Verify("b", "pw"))

	// renaming a missing source is a no-op
	require.NoError(t, s.Rename("missing", "c"))
	assert.False(t, s.IsLocked("c"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	s, path := openStore(t, "")
	require.NoError(t, s.SetPassword("notes", "pw"))

	reopened, err := Open(path, "")
	require.NoError(t, err)
	assert.True(t, reopened.IsLocked("notes"))
	assert.True(t, reopened.Verify("notes", "pw"))
	assert.False(t, reopened.Verify("notes", "wrong"))
}
