// Package ws owns the single logical push-channel connection to the chat
// server. The Manager runs a deterministic reconnection policy: any
// abnormal end of the connection (dial failure, network error, server
// restart) schedules a fresh dial after a fixed delay, forever, until a
// connection succeeds or a graceful close happens. Graceful termination
// is identified by the reserved close code 4000 and is the only path
// that suppresses reconnection.
//
// The Manager forwards inbound frames verbatim to a dispatch callback
// and never interprets payload content. Connection-level failures are
// never surfaced as user-visible errors; they are absorbed by the retry
// loop.
package ws

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/mernchat/chat-client/internal/metrics"
)

// State is the connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

// String returns the lowercase state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CodeLogout is the reserved close code for client-initiated logout.
// Closing with this code suppresses reconnection; every other code is
// treated as abnormal.
const CodeLogout = 4000

// CodeAbnormal is the synthesized close code for connections that ended
// without a close frame (network failure, dial error).
const CodeAbnormal = 1006

// DefaultRetryDelay is the fixed delay between reconnection attempts.
const DefaultRetryDelay = 1000 * time.Millisecond

// DefaultDialTimeout bounds a single dial attempt.
const DefaultDialTimeout = 10 * time.Second

// CloseInfo describes how a connection ended.
type CloseInfo struct {
	Code   int
	Reason string
}

// ErrNotConnected is returned by Send when no connection is open.
var ErrNotConnected = errors.New("ws: not connected")

// Dialer establishes the transport connection. The returned conn must be
// ready for WebSocket data frames (handshake already completed).
type Dialer func(ctx context.Context, url string) (net.Conn, error)

// Config holds Manager settings. URL is required; zero values elsewhere
// take defaults.
type Config struct {
	URL         string
	RetryDelay  time.Duration
	DialTimeout time.Duration
	Dial        Dialer

	// OnFrame receives every inbound text frame verbatim. Invoked from
	// the read loop goroutine.
	OnFrame func(data []byte)

	// OnState receives every state transition, in order, outside the
	// Manager's internal lock. For StateClosed and StateReconnecting the
	// CloseInfo carries the close code and reason; it is zero otherwise.
	OnState func(state State, info CloseInfo)
}

// stateChange is a queued OnState notification.
type stateChange struct {
	state State
	info  CloseInfo
}

// Manager owns one logical connection and its reconnection policy.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	state   State
	conn    net.Conn
	connID  string      // uuid of the current attempt, for log correlation
	timer   *time.Timer // pending reconnect, non-nil only while Reconnecting
	closing bool        // graceful close requested on the open connection

	writeMu sync.Mutex

	// notifyMu serializes OnState delivery so transitions arrive in
	// commit order even when released by different goroutines.
	notifyMu sync.Mutex
	pending  []stateChange
}

// NewManager creates a Manager in the Idle state. No connection is made
// until Connect is called.
func NewManager(cfg Config) *Manager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string) (net.Conn, error) {
			conn, _, _, err := ws.Dial(ctx, url)
			return conn, err
		}
	}
	return &Manager{cfg: cfg, state: StateIdle}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts establishing the connection. It is idempotent: a no-op
// while a connection is already open or being established. Calling it
// while Reconnecting cancels the pending delay and dials immediately.
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case StateOpen, StateConnecting:
		m.mu.Unlock()
		return
	case StateReconnecting:
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
	}
	m.startDialLocked()
	m.mu.Unlock()
	m.flushNotifications()
}

// startDialLocked transitions to Connecting and spawns the dial
// goroutine. Callers hold m.mu and must flush notifications after
// unlocking.
func (m *Manager) startDialLocked() {
	m.closing = false
	m.connID = uuid.NewString()
	m.setStateLocked(StateConnecting, CloseInfo{})
	go m.dial(m.connID)
}

// dial performs one connection attempt. On success it installs the
// connection and starts the read loop; on failure it schedules a retry.
func (m *Manager) dial(attemptID string) {
	metrics.ConnectAttempts.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	conn, err := m.cfg.Dial(ctx, m.cfg.URL)
	cancel()

	m.mu.Lock()
	if m.state != StateConnecting || m.connID != attemptID {
		// A graceful close (or a newer attempt) superseded this dial.
		m.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		log.Printf("ws: dial failed attempt=%s url=%s: %v", attemptID, m.cfg.URL, err)
		m.scheduleReconnectLocked(CloseInfo{Code: CodeAbnormal, Reason: err.Error()})
		m.mu.Unlock()
		m.flushNotifications()
		return
	}

	m.conn = conn
	m.setStateLocked(StateOpen, CloseInfo{})
	m.mu.Unlock()
	m.flushNotifications()

	log.Printf("ws: connected attempt=%s url=%s", attemptID, m.cfg.URL)
	go m.readLoop(conn, attemptID)
}

// readLoop reads text frames until the connection ends, forwarding each
// frame verbatim to the dispatch callback.
func (m *Manager) readLoop(conn net.Conn, attemptID string) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			m.handleClose(conn, attemptID, err)
			return
		}
		if m.cfg.OnFrame != nil {
			m.cfg.OnFrame(data)
		}
	}
}

// handleClose classifies the end of a connection as graceful or abnormal
// and either parks the manager in Idle or schedules a reconnect.
func (m *Manager) handleClose(conn net.Conn, attemptID string, err error) {
	conn.Close()

	m.mu.Lock()
	if m.conn != conn {
		// A stale read loop from a superseded connection.
		m.mu.Unlock()
		return
	}
	m.conn = nil

	info := CloseInfo{Code: CodeAbnormal, Reason: err.Error()}
	var ce wsutil.ClosedError
	if errors.As(err, &ce) {
		info = CloseInfo{Code: int(ce.Code), Reason: ce.Reason}
	}
	if m.closing {
		// Our own close frame bounced back as a read error; report the
		// graceful code regardless of how the error surfaced.
		info = CloseInfo{Code: CodeLogout, Reason: "logout"}
	}

	m.setStateLocked(StateClosed, info)

	if info.Code == CodeLogout {
		log.Printf("ws: closed gracefully attempt=%s code=%d", attemptID, info.Code)
		m.closing = false
		m.setStateLocked(StateIdle, CloseInfo{})
		m.mu.Unlock()
		m.flushNotifications()
		return
	}

	log.Printf("ws: connection lost attempt=%s code=%d reason=%q", attemptID, info.Code, info.Reason)
	m.scheduleReconnectLocked(info)
	m.mu.Unlock()
	m.flushNotifications()
}

// scheduleReconnectLocked arms the fixed-delay retry. Callers hold m.mu
// and must flush notifications after unlocking.
func (m *Manager) scheduleReconnectLocked(info CloseInfo) {
	m.setStateLocked(StateReconnecting, info)
	metrics.Reconnects.Inc()
	m.timer = time.AfterFunc(m.cfg.RetryDelay, func() {
		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.startDialLocked()
		m.mu.Unlock()
		m.flushNotifications()
	})
}

// Send writes a text frame to the open connection. Returns
// ErrNotConnected when no connection is open.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

// Close terminates the connection with the given close code. Code 4000
// is the graceful logout path and suppresses reconnection; it also stops
// a pending dial or reconnect when called while Connecting or
// Reconnecting.
func (m *Manager) Close(code int, reason string) error {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.mu.Unlock()
		return nil

	case StateConnecting, StateReconnecting:
		// Nothing is open; just stop the machine.
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.connID = ""
		m.setStateLocked(StateClosed, CloseInfo{Code: code, Reason: reason})
		m.setStateLocked(StateIdle, CloseInfo{})
		m.mu.Unlock()
		m.flushNotifications()
		return nil
	}

	conn := m.conn
	m.closing = code == CodeLogout
	m.mu.Unlock()

	m.writeMu.Lock()
	err := ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason)))
	m.writeMu.Unlock()

	// Closing the conn unblocks the read loop, which finishes the state
	// transition under the closing flag.
	conn.Close()
	return err
}

// setStateLocked records a transition and queues its notification.
// Callers hold m.mu and must call flushNotifications after unlocking.
func (m *Manager) setStateLocked(state State, info CloseInfo) {
	m.state = state
	if m.cfg.OnState != nil {
		m.pending = append(m.pending, stateChange{state: state, info: info})
	}
}

// flushNotifications delivers queued OnState callbacks outside m.mu so a
// callback may safely call back into the Manager.
func (m *Manager) flushNotifications() {
	if m.cfg.OnState == nil {
		return
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		change := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		m.cfg.OnState(change.state, change.info)
	}
}
