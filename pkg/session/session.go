package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mdpad/mdpad/pkg/replica"
)

// CloseForbidden is the close code sent when the handshake password is
// rejected. Clients rely on it to tell a wrong password apart from a
// generic disconnect.
const CloseForbidden = 4403

// flushInterval paces the writer goroutine's poll for outbound sync
// messages produced by other sessions on the same document.
const flushInterval = 500 * time.Millisecond

// ServeConn runs one WebSocket session against the document named by
// rawPath. The password is checked before any state is touched: a rejected
// connection closes with CloseForbidden and leaves no presence count, no
// listener, and no hydrated replica behind. On success the session holds a
// presence count until the connection closes for any reason.
func (m *Manager) ServeConn(ctx context.Context, conn *websocket.Conn, rawPath string, password string) error {
	name := m.Normalize(rawPath)
	logger := slog.With("session", uuid.NewString(), "doc", name)

	if !m.locks.Verify(name, password) {
		logger.Info("rejected connection", "code", CloseForbidden)
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(CloseForbidden, "forbidden"), deadline)
		_ = conn.Close()
		return ErrForbidden
	}

	h, err := m.acquire(name)
	if err != nil {
		logger.Error("failed to bind document", "err", err)
		_ = conn.Close()
		return err
	}
	m.presence.Increment(name)
	defer func() {
		m.presence.Decrement(name)
		m.release(h)
	}()

	h.mu.Lock()
	state := h.doc.NewSyncState()
	h.mu.Unlock()

	logger.Info("session opened", "sessions", m.presence.Count(name))
	defer logger.Info("session closed")

	return m.sync(ctx, conn, h, state, logger)
}

// sync pumps messages between the connection and the shared replica: a
// reader goroutine merges and persists inbound messages, a writer goroutine
// drains outbound messages and then polls for changes made by other
// sessions.
func (m *Manager) sync(ctx context.Context, conn *websocket.Conn, h *docHandle, state replica.SyncState, logger *slog.Logger) error {
	wg := new(sync.WaitGroup)
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		defer conn.Close()
		for {
			mt, p, err := conn.ReadMessage()
			if err != nil {
				if !isExpectedClose(err) {
					logger.Error("failed to read message", "err", err)
				}
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if err := m.receiveAndPersist(h, state, p); err != nil {
				logger.Error("failed to apply message", "err", err)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer conn.Close()

		if err := drainMessages(conn, h, state); err != nil {
			if !isExpectedClose(err) {
				logger.Error(err.Error())
			}
			return
		}

		t := time.NewTicker(flushInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := drainMessages(conn, h, state); err != nil {
					if !isExpectedClose(err) {
						logger.Error(err.Error())
					}
					return
				}
			case <-done:
				// the reader is gone, nobody is listening anymore
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return nil
}

// drainMessages writes generated sync messages until the state has nothing
// more to send.
func drainMessages(conn *websocket.Conn, h *docHandle, state replica.SyncState) error {
	for {
		h.mu.Lock()
		msg, ok := state.GenerateMessage()
		h.mu.Unlock()
		if !ok {
			return nil
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
	}
}

func isExpectedClose(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure)
}
