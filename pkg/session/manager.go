// Package session binds WebSocket connections to live document replicas and
// hosts the out-of-band management operations (list, read, rename, delete,
// lock control) the HTTP layer calls into.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdpad/mdpad/pkg/docname"
	"github.com/mdpad/mdpad/pkg/lockstore"
	"github.com/mdpad/mdpad/pkg/metastore"
	"github.com/mdpad/mdpad/pkg/presence"
	"github.com/mdpad/mdpad/pkg/replica"
	"github.com/mdpad/mdpad/pkg/updatelog"
)

// Caller-visible error kinds. The HTTP layer maps these to status codes.
var (
	ErrNameRequired     = errors.New("document name required")
	ErrPasswordRequired = errors.New("password required")
	ErrSameName         = errors.New("source and target are the same document")
	ErrNotFound         = errors.New("document not found")
	ErrConflict         = errors.New("target document already exists")
	ErrForbidden        = errors.New("invalid password")
)

// Manager owns the shared in-memory replicas and coordinates the stores.
type Manager struct {
	log        updatelog.Store
	meta       *metastore.Store
	locks      *lockstore.Store
	presence   *presence.Tracker
	defaultDoc string

	mu   sync.Mutex
	open map[string]*docHandle
}

func NewManager(log updatelog.Store, meta *metastore.Store, locks *lockstore.Store, tracker *presence.Tracker, defaultDoc string) *Manager {
	return &Manager{
		log:        log,
		meta:       meta,
		locks:      locks,
		presence:   tracker,
		defaultDoc: defaultDoc,
		open:       make(map[string]*docHandle),
	}
}

// docHandle is the shared replica for one document plus its session
// refcount. All doc access goes through mu: the automerge incremental-save
// cursor is per-doc, so merge and flush must be one critical section.
type docHandle struct {
	mu   sync.Mutex
	name string
	doc  replica.Replica
	refs int
}

// Normalize maps a raw path to the canonical document name.
func (m *Manager) Normalize(rawPath string) string {
	return docname.Normalize(rawPath, m.defaultDoc)
}

// acquire attaches to the shared replica for name, hydrating it from the
// update log on first bind. Metadata is ensured when the replica is created.
func (m *Manager) acquire(name string) (*docHandle, error) {
	m.mu.Lock()
	if h, ok := m.open[name]; ok {
		h.refs++
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	doc, err := updatelog.Hydrate(m.log, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if h, ok := m.open[name]; ok {
		// lost the hydration race, use the winner's replica
		h.refs++
		m.mu.Unlock()
		return h, nil
	}
	h := &docHandle{name: name, doc: doc, refs: 1}
	m.open[name] = h
	m.mu.Unlock()

	if _, err := m.meta.Ensure(name, time.Now().UTC()); err != nil {
		m.release(h)
		return nil, err
	}
	return h, nil
}

// release detaches one session; the replica is evicted at refcount zero.
func (m *Manager) release(h *docHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.refs--
	if h.refs <= 0 {
		h.mu.Lock()
		name := h.name
		h.mu.Unlock()
		if m.open[name] == h {
			delete(m.open, name)
		}
	}
}

// receiveAndPersist merges one sync message into the shared replica and
// appends whatever changed to the update log. Runs as one critical section
// so records land in the log in the order the replica emitted them.
func (m *Manager) receiveAndPersist(h *docHandle, state replica.SyncState, msg []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := state.ReceiveMessage(msg); err != nil {
		return err
	}
	record := h.doc.FlushIncremental()
	if len(record) == 0 {
		return nil
	}
	if err := m.log.Append(h.name, record); err != nil {
		return fmt.Errorf("failed to persist update for %q: %w", h.name, err)
	}
	if err := m.meta.Touch(h.name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to touch metadata for %q: %w", h.name, err)
	}
	return nil
}

// Summary is one row of the document listing.
type Summary struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Locked    bool      `json:"locked"`
	Empty     bool      `json:"empty"`
	Open      bool      `json:"open"`
}

// ListDocuments enumerates every persisted document name, sorted.
func (m *Manager) ListDocuments() ([]string, error) {
	return m.log.ListNames()
}

// ListSummaries returns the listing rows for every persisted document.
func (m *Manager) ListSummaries() ([]Summary, error) {
	names, err := m.log.ListNames()
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(names))
	for _, name := range names {
		text, err := m.textOf(name)
		if err != nil {
			return nil, err
		}
		summary := Summary{
			Name:   name,
			Locked: m.locks.IsLocked(name),
			Empty:  strings.TrimSpace(text) == "",
			Open:   m.presence.IsOpen(name),
		}
		if record, ok := m.meta.Get(name); ok {
			summary.CreatedAt = record.CreatedAt
			summary.UpdatedAt = record.UpdatedAt
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetContent returns the document's textual content.
func (m *Manager) GetContent(rawName string) (string, error) {
	name, err := m.requireName(rawName)
	if err != nil {
		return "", err
	}
	if err := m.requireExists(name); err != nil {
		return "", err
	}
	return m.textOf(name)
}

// textOf prefers the live replica over a fresh hydration so open documents
// are read without touching disk.
func (m *Manager) textOf(name string) (string, error) {
	m.mu.Lock()
	h := m.open[name]
	m.mu.Unlock()
	if h != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.doc.Text()
	}
	doc, err := updatelog.Hydrate(m.log, name)
	if err != nil {
		return "", err
	}
	return doc.Text()
}

// Rename moves a document's log content, lock record, metadata, and presence
// count to a new name. Any live handle is re-keyed first so session updates
// land in the target log while the copy is in flight. The full state is
// copied to the target and verified loadable before the source log is
// cleared; a failure after the copy is surfaced to the caller, no rollback
// is attempted.
func (m *Manager) Rename(rawFrom string, rawTo string) error {
	from, err := m.requireName(rawFrom)
	if err != nil {
		return fmt.Errorf("source %w", ErrNameRequired)
	}
	to, err := m.requireName(rawTo)
	if err != nil {
		return fmt.Errorf("target %w", ErrNameRequired)
	}
	if from == to {
		return ErrSameName
	}
	if err := m.requireExists(from); err != nil {
		return err
	}
	if ok, err := m.log.Exists(to); err != nil {
		return err
	} else if ok {
		return ErrConflict
	}

	// Flip the live handle to the target before touching the logs: once a
	// session holds the new name, every append it makes is safe from the
	// clear below. The update log always contains everything the replica
	// does, so the disk copy taken afterwards misses nothing.
	m.mu.Lock()
	if _, taken := m.open[to]; taken {
		m.mu.Unlock()
		return ErrConflict
	}
	if h, ok := m.open[from]; ok {
		delete(m.open, from)
		m.open[to] = h
		h.mu.Lock()
		h.name = to
		h.mu.Unlock()
	}
	m.mu.Unlock()

	state, err := m.stateOf(from)
	if err != nil {
		return err
	}
	if err := m.log.Append(to, state); err != nil {
		return fmt.Errorf("failed to copy %q to %q: %w", from, to, err)
	}
	if _, err := updatelog.Hydrate(m.log, to); err != nil {
		return fmt.Errorf("copied state for %q is not loadable: %w", to, err)
	}
	if err := m.log.Clear(from); err != nil {
		return fmt.Errorf("failed to clear %q after copying to %q: %w", from, to, err)
	}

	now := time.Now().UTC()
	if err := m.locks.Rename(from, to); err != nil {
		return err
	}
	if err := m.meta.Rename(from, to, now); err != nil {
		return err
	}
	m.presence.Rename(from, to)
	return nil
}

// stateOf snapshots the document's consolidated full state, preferring the
// live replica when one is loaded.
func (m *Manager) stateOf(name string) ([]byte, error) {
	m.mu.Lock()
	h := m.open[name]
	m.mu.Unlock()
	if h != nil {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.doc.FullState(), nil
	}
	return updatelog.FullState(m.log, name)
}

// Delete removes the document's log, lock record, metadata, and presence
// entry.
func (m *Manager) Delete(rawName string) error {
	name, err := m.requireName(rawName)
	if err != nil {
		return err
	}
	if err := m.requireExists(name); err != nil {
		return err
	}
	if err := m.log.Clear(name); err != nil {
		return fmt.Errorf("failed to clear %q: %w", name, err)
	}
	if err := m.locks.RemovePassword(name); err != nil {
		return err
	}
	if err := m.meta.Remove(name); err != nil {
		return err
	}
	m.presence.Clear(name)
	m.mu.Lock()
	delete(m.open, name)
	m.mu.Unlock()
	return nil
}

// IsLocked reports whether the document has a password set.
func (m *Manager) IsLocked(rawName string) bool {
	return m.locks.IsLocked(m.Normalize(rawName))
}

// SetPassword locks the document behind password.
func (m *Manager) SetPassword(rawName string, password string) error {
	name, err := m.requireName(rawName)
	if err != nil {
		return err
	}
	if password == "" {
		return ErrPasswordRequired
	}
	return m.locks.SetPassword(name, password)
}

// RemovePassword unlocks the document.
func (m *Manager) RemovePassword(rawName string) error {
	name, err := m.requireName(rawName)
	if err != nil {
		return err
	}
	return m.locks.RemovePassword(name)
}

// Metadata returns the document's timestamp record if present.
func (m *Manager) Metadata(rawName string) (metastore.Record, bool) {
	return m.meta.Get(m.Normalize(rawName))
}

// IsOpen reports whether the document has at least one live session.
func (m *Manager) IsOpen(rawName string) bool {
	return m.presence.IsOpen(m.Normalize(rawName))
}

// VerifyAccess reports whether password grants access to the document. The
// answer never reveals whether the document exists or is locked.
func (m *Manager) VerifyAccess(rawName string, password string) bool {
	return m.locks.Verify(m.Normalize(rawName), password)
}

// VerifyMaster reports whether password matches the configured master
// password; with none configured every password passes.
func (m *Manager) VerifyMaster(password string) bool {
	return m.locks.VerifyMaster(password)
}

func (m *Manager) requireName(raw string) (string, error) {
	if strings.TrimSpace(strings.Trim(raw, "/")) == "" {
		return "", ErrNameRequired
	}
	return m.Normalize(raw), nil
}

func (m *Manager) requireExists(name string) error {
	ok, err := m.log.Exists(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}
