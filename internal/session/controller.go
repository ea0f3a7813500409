// Package session orchestrates the client's synchronization core: it
// sequences connect and disconnect around login and logout, routes every
// inbound push frame by its decoded type, reconciles REST snapshots with
// live deltas, and gates interaction behind the sticky fatal-error
// surface.
//
// All state mutation happens on a single serial event loop. Inbound
// frames, connection state changes, REST completions, and user actions
// are posted as events to one channel and applied strictly in arrival
// order, so the roster and timeline are never mutated concurrently. The
// view layer reads through snapshot accessors only.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mernchat/chat-client/internal/metrics"
	"github.com/mernchat/chat-client/internal/protocol"
	"github.com/mernchat/chat-client/internal/rest"
	"github.com/mernchat/chat-client/internal/roster"
	"github.com/mernchat/chat-client/internal/timeline"
	"github.com/mernchat/chat-client/internal/ws"
)

// Identity describes the authenticated user. It exists only while a
// session is active.
type Identity struct {
	ID       string
	Username string
}

// Interaction rejections returned by user-action methods.
var (
	ErrNotLoggedIn    = errors.New("session: not logged in")
	ErrLoggedIn       = errors.New("session: already logged in")
	ErrNoConversation = errors.New("session: no conversation selected")
	ErrFatal          = errors.New("session: fatal error present")
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

type event interface{}

// identityEvent starts a session after a successful login or register.
type identityEvent struct {
	identity Identity
}

// frameEvent carries one raw inbound push frame.
type frameEvent struct {
	data []byte
}

// connStateEvent reports a push-channel state transition.
type connStateEvent struct {
	state ws.State
	info  ws.CloseInfo
}

// rosterLoadedEvent carries the result of a GET /friends call.
type rosterLoadedEvent struct {
	epoch    uint64
	contacts []protocol.Contact
	err      error
}

// historyLoadedEvent carries the result of a GET /messages/:peer call.
type historyLoadedEvent struct {
	epoch  uint64
	peerID string
	gen    uint64
	msgs   []protocol.Message
	err    error
}

// contactConfirmedEvent inserts a contact confirmed by POST /addFriend.
type contactConfirmedEvent struct {
	epoch   uint64
	contact protocol.Contact
}

// selectEvent switches the active conversation; an empty peer deselects.
type selectEvent struct {
	peerID string
}

// sendEvent submits an outbound message for the selected conversation.
type sendEvent struct {
	text string
}

// logoutEvent starts the graceful session shutdown.
type logoutEvent struct{}

// teardownEvent finishes the session reset when no connection transition
// will arrive (the push channel was already idle at logout time).
type teardownEvent struct{}

// ---------------------------------------------------------------------------
// Controller
// ---------------------------------------------------------------------------

// Config holds Controller settings.
type Config struct {
	// PushURL is the push-channel WebSocket URL.
	PushURL string

	// REST performs the HTTP calls.
	REST *rest.Client

	// WS overrides the connection manager configuration; URL, OnFrame
	// and OnState are set by the Controller. Used by tests to inject a
	// dialer and shrink the retry delay.
	WS ws.Config
}

// Controller owns one session's synchronization state.
type Controller struct {
	restc *rest.Client
	conn  *ws.Manager

	events chan event
	done   chan struct{}
	cancel context.CancelFunc

	mu         sync.RWMutex
	identity   *Identity
	roster     *roster.Tracker
	timeline   *timeline.Store
	selected   string
	connState  ws.State
	fatal      ErrorSurface
	loggingOut bool
	resumed    bool // an abnormal close happened; refresh the roster on reopen
	epoch      uint64 // bumped on every teardown; stale REST results are discarded
}

// NewController creates a Controller wired to the given REST client and
// push-channel URL. Start must be called before use.
func NewController(cfg Config) *Controller {
	c := &Controller{
		restc:  cfg.REST,
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}

	wsCfg := cfg.WS
	wsCfg.URL = cfg.PushURL
	wsCfg.OnFrame = func(data []byte) {
		c.post(frameEvent{data: append([]byte(nil), data...)})
	}
	wsCfg.OnState = func(state ws.State, info ws.CloseInfo) {
		c.post(connStateEvent{state: state, info: info})
	}
	c.conn = ws.NewManager(wsCfg)
	return c
}

// Start runs the event loop until ctx is cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop terminates the event loop. It does not log out; it is process
// shutdown, not session shutdown.
func (c *Controller) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// post delivers an event to the loop. Events are applied strictly in
// arrival order.
func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// run is the serial state-update loop. Every mutation of identity,
// roster, timeline, selection, and the fatal surface happens here.
func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case identityEvent:
		c.handleIdentity(ctx, ev.identity)
	case frameEvent:
		c.handleFrame(ev.data)
	case connStateEvent:
		c.handleConnState(ctx, ev)
	case rosterLoadedEvent:
		c.handleRosterLoaded(ev)
	case historyLoadedEvent:
		c.handleHistoryLoaded(ev)
	case contactConfirmedEvent:
		c.handleContactConfirmed(ev)
	case selectEvent:
		c.handleSelect(ctx, ev.peerID)
	case sendEvent:
		c.handleSend(ev.text)
	case logoutEvent:
		c.handleLogout(ctx)
	case teardownEvent:
		c.teardown()
	}
}

// ---------------------------------------------------------------------------
// User actions
// ---------------------------------------------------------------------------

// Login authenticates against the server. Credential rejections come
// back inline as *rest.APIError and touch no session state; on success
// the session starts and the push channel connects.
func (c *Controller) Login(ctx context.Context, username, password string) error {
	if _, ok := c.Identity(); ok {
		return ErrLoggedIn
	}
	id, err := c.restc.Login(ctx, username, password)
	if err != nil {
		return err
	}
	c.post(identityEvent{identity: Identity{ID: id, Username: username}})
	return nil
}

// Register creates an account and starts the session, like Login.
func (c *Controller) Register(ctx context.Context, username, password string) error {
	if _, ok := c.Identity(); ok {
		return ErrLoggedIn
	}
	id, err := c.restc.Register(ctx, username, password)
	if err != nil {
		return err
	}
	c.post(identityEvent{identity: Identity{ID: id, Username: username}})
	return nil
}

// Logout invalidates the server-side session and closes the push channel
// gracefully. The session state is cleared once the graceful transition
// lands.
func (c *Controller) Logout() error {
	if _, ok := c.Identity(); !ok {
		return ErrNotLoggedIn
	}
	c.post(logoutEvent{})
	return nil
}

// SelectConversation makes peerID the active conversation and fetches
// its history. An empty peerID deselects. Rejected while the fatal
// surface is raised.
func (c *Controller) SelectConversation(peerID string) error {
	if _, ok := c.Identity(); !ok {
		return ErrNotLoggedIn
	}
	if present, _ := c.fatal.Get(); present && peerID != "" {
		return ErrFatal
	}
	c.post(selectEvent{peerID: peerID})
	return nil
}

// SendMessage submits a message to the selected conversation. The local
// echo appears in the timeline immediately, before any server
// confirmation.
func (c *Controller) SendMessage(text string) error {
	c.mu.RLock()
	identity := c.identity
	selected := c.selected
	c.mu.RUnlock()

	if identity == nil {
		return ErrNotLoggedIn
	}
	if present, _ := c.fatal.Get(); present {
		return ErrFatal
	}
	if selected == "" {
		return ErrNoConversation
	}
	if err := protocol.ValidateText(text); err != nil {
		return err
	}
	c.post(sendEvent{text: text})
	return nil
}

// AddFriend asks the server to add the named user as a contact.
// Rejections (unknown user, duplicate) come back inline as
// *rest.APIError; on success the confirmed contact joins the roster.
func (c *Controller) AddFriend(ctx context.Context, username string) error {
	if _, ok := c.Identity(); !ok {
		return ErrNotLoggedIn
	}
	friend, err := c.restc.AddFriend(ctx, username)
	if err != nil {
		return err
	}
	c.post(contactConfirmedEvent{epoch: c.currentEpoch(), contact: friend})
	return nil
}

// ---------------------------------------------------------------------------
// Snapshot accessors (read-only views for the UI)
// ---------------------------------------------------------------------------

// Identity returns the authenticated identity, if a session is active.
func (c *Controller) Identity() (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return Identity{}, false
	}
	return *c.identity, true
}

// Roster returns a sorted copy of the contact roster.
func (c *Controller) Roster() []protocol.Contact {
	c.mu.RLock()
	r := c.roster
	c.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.Snapshot()
}

// SelectedPeer returns the id of the active conversation's peer, or "".
func (c *Controller) SelectedPeer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected
}

// SelectedContact returns the roster entry for the active conversation
// peer, or false when nothing is selected.
func (c *Controller) SelectedContact() (protocol.Contact, bool) {
	c.mu.RLock()
	selected := c.selected
	r := c.roster
	c.mu.RUnlock()
	if selected == "" || r == nil {
		return protocol.Contact{}, false
	}
	return r.Get(selected)
}

// Conversation returns the messages of the active conversation in
// insertion order.
func (c *Controller) Conversation() []protocol.Message {
	c.mu.RLock()
	identity := c.identity
	selected := c.selected
	tl := c.timeline
	c.mu.RUnlock()
	if identity == nil || selected == "" || tl == nil {
		return nil
	}
	return tl.Conversation(identity.ID, selected)
}

// FatalError returns the sticky fatal condition and its detail.
func (c *Controller) FatalError() (bool, string) {
	return c.fatal.Get()
}

// ConnState returns the current push-channel state.
func (c *Controller) ConnState() ws.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connState
}

func (c *Controller) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// ---------------------------------------------------------------------------
// Event handlers (loop goroutine only)
// ---------------------------------------------------------------------------

func (c *Controller) handleIdentity(ctx context.Context, identity Identity) {
	c.mu.Lock()
	if c.identity != nil {
		c.mu.Unlock()
		log.Printf("session: ignoring identity while session active user=%s", identity.Username)
		return
	}
	c.identity = &identity
	c.roster = roster.NewTracker(identity.ID)
	c.timeline = timeline.NewStore()
	c.selected = ""
	c.loggingOut = false
	epoch := c.epoch
	c.mu.Unlock()

	c.fatal.Clear()
	log.Printf("session: started user=%s id=%s", identity.Username, identity.ID)

	c.conn.Connect()
	c.fetchRoster(ctx, epoch)
}

// fetchRoster loads the authoritative contact list in the background and
// posts the result back to the loop.
func (c *Controller) fetchRoster(ctx context.Context, epoch uint64) {
	go func() {
		contacts, err := c.restc.Friends(ctx)
		c.post(rosterLoadedEvent{epoch: epoch, contacts: contacts, err: err})
	}()
}

func (c *Controller) handleRosterLoaded(ev rosterLoadedEvent) {
	c.mu.RLock()
	stale := ev.epoch != c.epoch || c.identity == nil
	r := c.roster
	c.mu.RUnlock()
	if stale {
		return
	}

	if ev.err != nil {
		c.raiseFatal(fmt.Sprintf("roster fetch failed: %v", ev.err))
		return
	}
	r.LoadBase(ev.contacts)
	log.Printf("session: roster loaded contacts=%d", r.Len())
}

func (c *Controller) handleFrame(data []byte) {
	c.mu.RLock()
	identity := c.identity
	r := c.roster
	tl := c.timeline
	c.mu.RUnlock()
	if identity == nil {
		return
	}

	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("dropped").Inc()
		log.Printf("session: dropping frame: %v", err)
		return
	}
	metrics.FramesTotal.WithLabelValues(frame.Kind()).Inc()

	switch frame := frame.(type) {
	case protocol.SnapshotFrame:
		// Presence snapshots carry enough to seed membership, but the
		// tracker only updates status on this path; unknown peers go
		// through the membership path first.
		for _, p := range frame.Peers {
			if p.UserID == identity.ID || r.Contains(p.UserID) {
				continue
			}
			r.AddContact(protocol.Contact{ID: p.UserID, Username: p.Username})
		}
		r.ApplySnapshot(frame.Peers)

	case protocol.DeltaFrame:
		r.ApplyDelta(frame.UserID, frame.Online)

	case protocol.TextFrame:
		tl.AppendPush(frame.Message)

	case protocol.AddFriendFrame:
		r.AddContact(frame.Contact)

	case protocol.ErrorFrame:
		c.raiseFatal(frame.Detail)
	}
}

func (c *Controller) handleConnState(ctx context.Context, ev connStateEvent) {
	c.mu.Lock()
	c.connState = ev.state
	if ev.state == ws.StateReconnecting {
		c.resumed = true
	}
	resumed := c.resumed
	if ev.state == ws.StateOpen {
		c.resumed = false
	}
	loggingOut := c.loggingOut
	active := c.identity != nil
	epoch := c.epoch
	c.mu.Unlock()

	switch ev.state {
	case ws.StateIdle:
		if loggingOut {
			c.teardown()
		}
	case ws.StateOpen:
		// After a reconnect, refresh the roster: presence pushes missed
		// while disconnected are reconciled by the base merge plus the
		// next snapshot frame.
		if active && !loggingOut && resumed {
			c.fetchRoster(ctx, epoch)
		}
	}
}

func (c *Controller) handleSelect(ctx context.Context, peerID string) {
	c.mu.Lock()
	identity := c.identity
	tl := c.timeline
	if identity == nil || tl == nil {
		c.mu.Unlock()
		return
	}
	if present, _ := c.fatal.Get(); present && peerID != "" {
		c.mu.Unlock()
		return
	}
	c.selected = peerID
	epoch := c.epoch
	c.mu.Unlock()

	// Any in-flight history fetch is superseded from this moment on.
	gen := tl.Begin()
	if peerID == "" {
		return
	}

	go func() {
		msgs, err := c.restc.Messages(ctx, peerID)
		c.post(historyLoadedEvent{epoch: epoch, peerID: peerID, gen: gen, msgs: msgs, err: err})
	}()
}

func (c *Controller) handleHistoryLoaded(ev historyLoadedEvent) {
	c.mu.RLock()
	stale := ev.epoch != c.epoch || c.identity == nil
	var selfID string
	if c.identity != nil {
		selfID = c.identity.ID
	}
	tl := c.timeline
	c.mu.RUnlock()
	if stale {
		return
	}

	if ev.err != nil {
		c.raiseFatal(fmt.Sprintf("history fetch failed for peer %s: %v", ev.peerID, ev.err))
		return
	}
	if !tl.LoadHistory(selfID, ev.peerID, ev.gen, ev.msgs) {
		log.Printf("session: discarded stale history response peer=%s gen=%d", ev.peerID, ev.gen)
		return
	}
	log.Printf("session: history loaded peer=%s entries=%d", ev.peerID, tl.Len())
}

func (c *Controller) handleContactConfirmed(ev contactConfirmedEvent) {
	c.mu.RLock()
	stale := ev.epoch != c.epoch || c.identity == nil
	r := c.roster
	c.mu.RUnlock()
	if stale {
		return
	}
	r.AddContact(ev.contact)
}

func (c *Controller) handleSend(text string) {
	c.mu.RLock()
	identity := c.identity
	selected := c.selected
	tl := c.timeline
	c.mu.RUnlock()
	if identity == nil || selected == "" || tl == nil {
		return
	}
	if present, _ := c.fatal.Get(); present {
		return
	}

	// Optimistic echo first: the sender sees their message without
	// waiting for the network.
	tl.AppendLocalEcho(identity.ID, selected, text)

	data, err := protocol.EncodeSend(selected, text)
	if err != nil {
		log.Printf("session: failed to encode outbound message: %v", err)
		return
	}
	if err := c.conn.Send(data); err != nil {
		// The echo stays; there is no outbound queue. The message is
		// lost server-side if the connection was down, matching the
		// no-offline-queuing scope.
		log.Printf("session: outbound message not sent: %v", err)
	}
}

func (c *Controller) handleLogout(ctx context.Context) {
	c.mu.Lock()
	if c.identity == nil || c.loggingOut {
		c.mu.Unlock()
		return
	}
	c.loggingOut = true
	c.mu.Unlock()

	go func() {
		// Server-side invalidate first, then the graceful close.
		if err := c.restc.Logout(ctx); err != nil {
			log.Printf("session: logout call failed (proceeding with close): %v", err)
		}
		if c.conn.State() == ws.StateIdle {
			// Nothing to close; finish the reset directly.
			c.post(teardownEvent{})
			return
		}
		if err := c.conn.Close(ws.CodeLogout, "logout"); err != nil {
			log.Printf("session: close failed: %v", err)
			c.post(teardownEvent{})
		}
	}()
}

// teardown destroys the session: identity, roster, timeline, selection,
// and the fatal surface all reset. Nothing survives into the next
// session.
func (c *Controller) teardown() {
	c.mu.Lock()
	if c.identity == nil {
		c.mu.Unlock()
		return
	}
	user := c.identity.Username
	c.identity = nil
	c.roster = nil
	if c.timeline != nil {
		c.timeline.Reset()
	}
	c.timeline = nil
	c.selected = ""
	c.loggingOut = false
	c.epoch++
	c.mu.Unlock()

	c.fatal.Clear()
	metrics.RosterSize.Set(0)
	log.Printf("session: ended user=%s", user)
}

// raiseFatal marks the sticky fatal condition and deselects the active
// conversation. The connection is left alone; the transport keeps
// retrying in the background in case the condition was transient on the
// server.
func (c *Controller) raiseFatal(detail string) {
	c.fatal.Raise(detail)

	c.mu.Lock()
	c.selected = ""
	tl := c.timeline
	c.mu.Unlock()
	if tl != nil {
		// Logically cancel any in-flight history fetch.
		tl.Begin()
	}
	log.Printf("session: fatal error raised: %s", detail)
}
