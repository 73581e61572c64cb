// Package updatelog persists each document as an ordered, append-only
// sequence of opaque change-sets. Replaying a document's records against an
// empty replica reproduces its full state, so the log is the single durable
// source of truth for content.
package updatelog

import (
	"errors"
	"fmt"

	"github.com/mdpad/mdpad/pkg/replica"
)

// ErrClearUnsupported is returned by engines that cannot express deletion.
// Callers must surface it rather than treat the clear as done.
var ErrClearUnsupported = errors.New("storage engine does not support clearing a document")

// Store is an append-only keyed update log.
type Store interface {
	// Append durably persists one change-set for name. Records are
	// at-least-once durable once accepted; there is no atomicity across
	// multiple appends.
	Append(name string, record []byte) error
	// Records returns all persisted change-sets for name in append order.
	// A document with no records yields an empty slice, not an error.
	Records(name string) ([][]byte, error)
	// ListNames enumerates documents with at least one record, sorted
	// lexicographically.
	ListNames() ([]string, error)
	// Clear durably removes all records for name.
	Clear(name string) error
	// Exists reports whether name has at least one record.
	Exists(name string) (bool, error)
	Close() error
}

// Hydrate reconstructs a replica by replaying all of name's records. A
// document with no records hydrates to an empty replica.
func Hydrate(s Store, name string) (replica.Replica, error) {
	records, err := s.Records(name)
	if err != nil {
		return nil, err
	}
	doc := replica.New()
	for i, record := range records {
		if err := doc.ApplyUpdate(record); err != nil {
			return nil, fmt.Errorf("failed to replay record %d of %q: %w", i, name, err)
		}
	}
	// drain the incremental cursor so replayed history is never re-appended
	doc.FlushIncremental()
	return doc, nil
}

// FullState returns one consolidated snapshot equivalent to replaying the
// whole log for name.
func FullState(s Store, name string) ([]byte, error) {
	doc, err := Hydrate(s, name)
	if err != nil {
		return nil, err
	}
	return doc.FullState(), nil
}
