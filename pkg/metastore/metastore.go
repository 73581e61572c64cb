// Package metastore tracks creation and update timestamps per document,
// persisted as a whole-store JSON snapshot rewritten on every mutation. Fine
// at pad scale; not built for high write throughput.
package metastore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record holds one document's timestamps.
type Record struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

// Open loads the metadata snapshot at path, starting empty if the file does
// not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[string]Record)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read metadata store %q: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse metadata store %q: %w", path, err)
	}
	if s.records == nil {
		s.records = make(map[string]Record)
	}
	return s, nil
}

// Ensure returns name's record, creating it with both timestamps set to now
// if absent. An existing record is returned unchanged.
func (s *Store) Ensure(name string, now time.Time) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[name]; ok {
		return record, nil
	}
	record := Record{CreatedAt: now, UpdatedAt: now}
	s.records[name] = record
	return record, s.persistLocked()
}

// Touch refreshes name's UpdatedAt, creating the record if absent.
func (s *Store) Touch(name string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[name]
	if !ok {
		record = Record{CreatedAt: now}
	}
	record.UpdatedAt = now
	s.records[name] = record
	return s.persistLocked()
}

// Get returns name's record if present.
func (s *Store) Get(name string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[name]
	return record, ok
}

// Rename moves the record from one name to another, preserving CreatedAt and
// setting UpdatedAt to now. A missing source record is synthesized first.
func (s *Store) Rename(from string, to string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[from]
	if !ok {
		record = Record{CreatedAt: now}
	}
	record.UpdatedAt = now
	delete(s.records, from)
	s.records[to] = record
	return s.persistLocked()
}

// Remove deletes name's record. Removing an absent record is a no-op.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		return nil
	}
	delete(s.records, name)
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata store %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace metadata store %q: %w", s.path, err)
	}
	return nil
}
