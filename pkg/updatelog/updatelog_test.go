package updatelog

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdpad/mdpad/pkg/replica"
)

// engines runs the same suite against both storage engines, reopening the
// store between open calls to exercise durability.
func engines(t *testing.T, run func(t *testing.T, open func(t *testing.T) Store)) {
	t.Helper()
	t.Run("leveldb", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "updates.leveldb")
		run(t, func(t *testing.T) Store {
			s, err := OpenLevelDB(path)
			require.NoError(t, err)
			return s
		})
	})
	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "updates.sqlite3")
		run(t, func(t *testing.T) Store {
			s, err := OpenSQLite(path)
			require.NoError(t, err)
			return s
		})
	})
}

func editRecord(t *testing.T, doc replica.Replica, text string) []byte {
	t.Helper()
	require.NoError(t, doc.(replica.Editor).AppendText(text))
	record := doc.FlushIncremental()
	require.NotEmpty(t, record)
	return record
}

func TestAppendAndReplay(t *testing.T) {
	engines(t, func(t *testing.T, open func(t *testing.T) Store) {
		s := open(t)
		doc := replica.New()
		require.NoError(t, s.Append("notes", editRecord(t, doc, "hel")))
		require.NoError(t, s.Append("notes", editRecord(t, doc, "lo")))
		require.NoError(t, s.Close())

		// replay in a fresh process must reproduce identical state
		s = open(t)
		defer s.Close()
		hydrated, err := Hydrate(s, "notes")
		require.NoError(t, err)
		text, err := hydrated.Text()
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
		assert.Equal(t, doc.FullState(), hydrated.FullState())
	})
}

func TestHydrateMissingIsEmpty(t *testing.T) {
	engines(t, func(t *testing.T, open func(t *testing.T) Store) {
		s := open(t)
		defer s.Close()
		doc, err := Hydrate(s, "nothing-here")
		require.NoError(t, err)
		text, err := doc.Text()
		require.NoError(t, err)
		assert.Equal(t, "", text)
	})
}

func TestListNamesSorted(t *testing.T) {
	engines(t, func(t *testing.T, open func(t *testing.T) Store) {
		s := open(t)
		defer s.Close()
		for _, name := range []string{"zebra", "alpha", "notes/2024"} {
			doc := replica.New()
			require.NoError(t, s.Append(name, editRecord(t, doc, "x")))
		}
		names, err := s.ListNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "notes/2024", "zebra"}, names)
	})
}

func TestListNamesEmptyStore(t *testing.T) {
	engines(t, func(t *testing.T, open func(t *testing.T) Store) {
		s := open(t)
		defer s.Close()
		names, err := s.ListNames()
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestClear(t *testing.T) {
	engines(t, func(t *testing.T, open func(t *testing.T) Store) {
		s := open(t)
		defer s.Close()
		doc := replica.New()
		require.NoError(t, s.Append("gone", editRecord(t, doc, "bye")))
		other := replica.New()
		require.NoError(t, s.Append("kept", editRecord(t, other, "hi")))

		require.NoError(t, s.Clear("gone"))

		ok, err := s.Exists("gone")
		require.NoError(t, err)
		assert.False(t, ok)
		names, err := s.ListNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"kept"}, names)

		hydrated, err := Hydrate(s, "gone")
		require.NoError(t, err)
		text, err := hydrated.Text()
		require.NoError(t, err)
		assert.Equal(t, "", text)
	})
}

func TestFullState(t *testing.T) {
	engines(t, func(t *testing.T, open func(t *testing.T) Store) {
		s := open(t)
		defer s.Close()
		doc := replica.New()
		require.NoError(t, s.Append("notes", editRecord(t, doc, "hello")))

		state, err := FullState(s, "notes")
		require.NoError(t, err)
		loaded := replica.New()
		require.NoError(t, loaded.ApplyUpdate(state))
		text, err := loaded.Text()
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})
}

func TestConcurrentAppendsAcrossNames(t *testing.T) {
	engines(t, func(t *testing.T, open func(t *testing.T) Store) {
		s := open(t)
		defer s.Close()

		const perDoc = 10
		records := make(map[string][][]byte)
		for _, name := range []string{"a", "b", "c"} {
			doc := replica.New()
			for i := 0; i < perDoc; i++ {
				records[name] = append(records[name], editRecord(t, doc, "x"))
			}
		}

		var wg sync.WaitGroup
		for name, docRecords := range records {
			wg.Add(1)
			go func(name string, docRecords [][]byte) {
				defer wg.Done()
				for _, record := range docRecords {
					assert.NoError(t, s.Append(name, record))
				}
			}(name, docRecords)
		}
		wg.Wait()

		for _, name := range []string{"a", "b", "c"} {
			records, err := s.Records(name)
			require.NoError(t, err)
			assert.Len(t, records, perDoc)
			hydrated, err := Hydrate(s, name)
			require.NoError(t, err)
			text, err := hydrated.Text()
			require.NoError(t, err)
			assert.Len(t, text, perDoc)
		}
	})
}
