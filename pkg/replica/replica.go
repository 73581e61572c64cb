// Package replica wraps the CRDT engine behind the narrow surface the sync
// service needs: apply persisted change-sets, emit new ones, snapshot the
// full state, and read the document text. Any engine whose merges are
// commutative and idempotent under log replay can sit behind these
// interfaces; the concrete engine is automerge.
package replica

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// contentKey is the root map key holding the shared markdown text.
const contentKey = "content"

// Replica is one document's live CRDT state.
type Replica interface {
	// ApplyUpdate merges one persisted change-set into the document.
	ApplyUpdate(record []byte) error
	// FullState returns a consolidated snapshot equivalent to replaying
	// every change applied so far.
	FullState() []byte
	// FlushIncremental returns the changes made since the last flush, or
	// nil when there is nothing new.
	FlushIncremental() []byte
	// Text extracts the document's textual content.
	Text() (string, error)
	// NewSyncState starts a per-connection sync conversation over this
	// document.
	NewSyncState() SyncState
}

// SyncState drives the wire protocol for a single peer.
type SyncState interface {
	ReceiveMessage(msg []byte) error
	GenerateMessage() ([]byte, bool)
}

type amReplica struct {
	doc *automerge.Doc
}

// New returns an empty replica.
func New() Replica {
	return &amReplica{doc: automerge.New()}
}

func (r *amReplica) ApplyUpdate(record []byte) error {
	if err := r.doc.LoadIncremental(record); err != nil {
		return fmt.Errorf("failed to apply update: %w", err)
	}
	return nil
}

func (r *amReplica) FullState() []byte {
	return r.doc.Save()
}

func (r *amReplica) FlushIncremental() []byte {
	return r.doc.SaveIncremental()
}

func (r *amReplica) Text() (string, error) {
	v, err := r.doc.Path(contentKey).Get()
	if err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	switch v.Kind() {
	case automerge.KindVoid:
		return "", nil
	case automerge.KindStr:
		return v.Str(), nil
	case automerge.KindText:
		return v.Text().Get()
	default:
		return "", fmt.Errorf("unexpected content value %s", v.GoString())
	}
}

func (r *amReplica) NewSyncState() SyncState {
	return &amSyncState{state: automerge.NewSyncState(r.doc)}
}

// SetText replaces the document text with s.
func (r *amReplica) SetText(s string) error {
	if err := r.doc.Path(contentKey).Set(automerge.NewText(s)); err != nil {
		return err
	}
	_, err := r.doc.Commit("set text")
	return err
}

// AppendText appends s to the document text, creating it if absent.
func (r *amReplica) AppendText(s string) error {
	v, err := r.doc.Path(contentKey).Get()
	if err != nil {
		return err
	}
	if v.Kind() != automerge.KindText {
		return r.SetText(s)
	}
	if err := v.Text().Append(s); err != nil {
		return err
	}
	_, err = r.doc.Commit("append text")
	return err
}

// Editor is implemented by replicas whose text can be mutated locally. The
// server itself never edits documents; this is how tests and tooling seed
// content.
type Editor interface {
	SetText(s string) error
	AppendText(s string) error
}

type amSyncState struct {
	state *automerge.SyncState
}

func (s *amSyncState) ReceiveMessage(msg []byte) error {
	if _, err := s.state.ReceiveMessage(msg); err != nil {
		return fmt.Errorf("failed to receive message: %w", err)
	}
	return nil
}

func (s *amSyncState) GenerateMessage() ([]byte, bool) {
	msg, valid := s.state.GenerateMessage()
	if !valid || msg == nil {
		return nil, false
	}
	return msg.Bytes(), true
}
