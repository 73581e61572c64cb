package updatelog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"
)

// key layout:
//
//	'u' 0x00 name 0x00 seq[8]  -> record bytes
//	'n' 0x00 name              -> empty (name index)
//
// seq is big-endian so the natural leveldb key order is append order.
const (
	recordTag = 'u'
	nameTag   = 'n'
)

// LevelDB is the default update log engine, one leveldb database holding
// every document's records.
type LevelDB struct {
	db   *leveldb.DB
	mu   sync.Mutex
	next map[string]uint64
}

// OpenLevelDB opens (or creates) the update log at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %q: %w", path, err)
	}
	return &LevelDB{db: db, next: make(map[string]uint64)}, nil
}

func recordPrefix(name string) []byte {
	prefix := make([]byte, 0, len(name)+3)
	prefix = append(prefix, recordTag, 0x00)
	prefix = append(prefix, name...)
	return append(prefix, 0x00)
}

func recordKey(name string, seq uint64) []byte {
	key := recordPrefix(name)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

func nameKey(name string) []byte {
	key := make([]byte, 0, len(name)+2)
	key = append(key, nameTag, 0x00)
	return append(key, name...)
}

func (l *LevelDB) Append(name string, record []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq, ok := l.next[name]
	if !ok {
		last, err := l.lastSeq(name)
		if err != nil {
			return err
		}
		seq = last + 1
	}

	batch := new(leveldb.Batch)
	batch.Put(recordKey(name, seq), record)
	batch.Put(nameKey(name), nil)
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to append record for %q: %w", name, err)
	}
	l.next[name] = seq + 1
	return nil
}

// lastSeq scans to the final record key for name. Zero means no records.
func (l *LevelDB) lastSeq(name string) (uint64, error) {
	it := l.db.NewIterator(ldb_util.BytesPrefix(recordPrefix(name)), nil)
	defer it.Release()
	if !it.Last() {
		if err := it.Error(); err != nil {
			return 0, fmt.Errorf("failed to scan records for %q: %w", name, err)
		}
		return 0, nil
	}
	key := it.Key()
	return binary.BigEndian.Uint64(key[len(key)-8:]), nil
}

func (l *LevelDB) Records(name string) ([][]byte, error) {
	it := l.db.NewIterator(ldb_util.BytesPrefix(recordPrefix(name)), nil)
	defer it.Release()
	var records [][]byte
	for it.Next() {
		record := make([]byte, len(it.Value()))
		copy(record, it.Value())
		records = append(records, record)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to read records for %q: %w", name, err)
	}
	return records, nil
}

func (l *LevelDB) ListNames() ([]string, error) {
	it := l.db.NewIterator(ldb_util.BytesPrefix([]byte{nameTag, 0x00}), nil)
	defer it.Release()
	names := make([]string, 0)
	for it.Next() {
		names = append(names, string(it.Key()[2:]))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return names, nil
}

func (l *LevelDB) Clear(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)
	it := l.db.NewIterator(ldb_util.BytesPrefix(recordPrefix(name)), nil)
	for it.Next() {
		key := make([]byte, len(it.Key()))
		copy(key, it.Key())
		batch.Delete(key)
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return fmt.Errorf("failed to scan records of %q for clear: %w", name, err)
	}
	batch.Delete(nameKey(name))
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to clear %q: %w", name, err)
	}
	delete(l.next, name)
	return nil
}

func (l *LevelDB) Exists(name string) (bool, error) {
	ok, err := l.db.Has(nameKey(name), nil)
	if err != nil {
		return false, fmt.Errorf("failed to check %q: %w", name, err)
	}
	return ok, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
