// Package lockstore tracks per-document password locks. A document with no
// record is unlocked. Passwords are stored as salted argon2id hashes and
// verified with constant-time comparison; an optional process-wide master
// password satisfies any check.
package lockstore

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters. Deliberately slow: each failed connection attempt
// costs one full hash, which bounds brute-force throughput but also adds
// ~10-50ms to every authorized handshake.
const (
	hashTime    = 1
	hashMemory  = 64 * 1024
	hashThreads = 4
	hashLen     = 32
	saltLen     = 16
)

// Record is the persisted lock state for one document.
type Record struct {
	Salt      []byte    `json:"salt"`
	Hash      []byte    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store holds every document's lock record and rewrites the whole snapshot
// file on each mutation.
type Store struct {
	mu      sync.Mutex
	path    string
	master  string
	records map[string]Record
}

// Open loads the lock snapshot at path, starting empty if the file does not
// exist. An empty master password disables the master override.
func Open(path string, masterPassword string) (*Store, error) {
	s := &Store{path: path, master: masterPassword, records: make(map[string]Record)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read lock store %q: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse lock store %q: %w", path, err)
	}
	if s.records == nil {
		s.records = make(map[string]Record)
	}
	return s, nil
}

// IsLocked reports whether name has a password set.
func (s *Store) IsLocked(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[name]
	return ok
}

// SetPassword locks name with password, generating a fresh random salt even
// when re-locking with an unchanged password.
func (s *Store) SetPassword(name string, password string) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := hashPassword(password, salt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = Record{Salt: salt, Hash: hash, UpdatedAt: time.Now().UTC()}
	return s.persistLocked()
}

// RemovePassword unlocks name. Unlocking an unlocked document is a no-op.
func (s *Store) RemovePassword(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[name]; !ok {
		return nil
	}
	delete(s.records, name)
	return s.persistLocked()
}

// Verify reports whether password grants access to name: always true when
// the document is unlocked, true on a master password match, else true only
// when the salted hash matches the stored one.
func (s *Store) Verify(name string, password string) bool {
	s.mu.Lock()
	record, locked := s.records[name]
	master := s.master
	s.mu.Unlock()

	if !locked {
		return true
	}
	if master != "" && subtle.ConstantTimeCompare([]byte(password), []byte(master)) == 1 {
		return true
	}
	// hashing outside the lock keeps slow verifications from serializing
	hash := hashPassword(password, record.Salt)
	return subtle.ConstantTimeCompare(hash, record.Hash) == 1
}

// VerifyMaster reports whether password matches the configured master
// password. With no master password configured the system is open and every
// password passes.
func (s *Store) VerifyMaster(password string) bool {
	if s.master == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(s.master)) == 1
}

// Rename moves the lock record from one name to another, overwriting any
// record at the target. A missing source is a no-op.
func (s *Store) Rename(from string, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[from]
	if !ok {
		return nil
	}
	delete(s.records, from)
	s.records[to] = record
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write lock store %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace lock store %q: %w", s.path, err)
	}
	return nil
}

func hashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, hashTime, hashMemory, hashThreads, hashLen)
}
