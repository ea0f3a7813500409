// Package timeline maintains the id-deduplicated message history for the
// active session across all conversations, merging three sources that
// arrive in no guaranteed order: REST-fetched history, live push
// messages, and optimistic local echoes. A generation counter guards
// against stale history responses being applied after a newer request or
// a conversation switch superseded them.
package timeline

import (
	"strconv"
	"sync"
	"time"

	"github.com/mernchat/chat-client/internal/metrics"
	"github.com/mernchat/chat-client/internal/protocol"
)

// Store holds the session timeline. It is goroutine-safe; mutation
// normally happens on the session event loop while the view reads
// conversation snapshots concurrently.
type Store struct {
	mu      sync.RWMutex
	entries []protocol.Message
	seen    map[string]struct{}
	gen     uint64

	lastEchoMilli int64
	echoSeq       int
}

// NewStore creates an empty timeline.
func NewStore() *Store {
	return &Store{seen: make(map[string]struct{})}
}

// Begin marks the start of a new history request and returns its
// generation. Any history response tagged with an older generation is
// discarded on arrival. Callers also use Begin to invalidate in-flight
// requests when the conversation is switched or deselected.
func (s *Store) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// LoadHistory replaces the conversation between selfID and peerID with
// the REST-fetched messages, provided gen is still the most recent
// generation. Returns false if the response was stale and discarded.
// Messages whose ids are already present elsewhere in the timeline keep
// their first-seen entry.
func (s *Store) LoadHistory(selfID, peerID string, gen uint64, msgs []protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return false
	}

	// Drop the current entries for this conversation so the server
	// history fully replaces them.
	kept := s.entries[:0]
	for _, m := range s.entries {
		if belongsTo(m, selfID, peerID) {
			delete(s.seen, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	s.entries = kept

	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.seen[m.ID] = struct{}{}
		s.entries = append(s.entries, m)
	}
	metrics.TimelineEntries.Set(float64(len(s.entries)))
	return true
}

// AppendLocalEcho synthesizes a provisional message with a client-side
// id derived from the current time and appends it immediately, before
// any server confirmation. The echoed entry stays authoritative: a later
// arrival with the same id is dropped, never merged.
func (s *Store) AppendLocalEcho(selfID, peerID, text string) protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ms := now.UnixMilli()
	if ms == s.lastEchoMilli {
		s.echoSeq++
	} else {
		s.lastEchoMilli = ms
		s.echoSeq = 0
	}
	id := strconv.FormatInt(ms, 10)
	if s.echoSeq > 0 {
		id += "-" + strconv.Itoa(s.echoSeq)
	}

	msg := protocol.Message{
		ID:        id,
		Sender:    selfID,
		Recipient: peerID,
		Text:      text,
		CreatedAt: now,
	}
	s.append(msg)
	return msg
}

// AppendPush appends a server-confirmed message arriving over the live
// channel. Returns false if a message with that id was already present.
func (s *Store) AppendPush(msg protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(msg)
}

// append inserts a message unless its id was already seen. Callers hold
// the write lock.
func (s *Store) append(msg protocol.Message) bool {
	if msg.ID == "" {
		return false
	}
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	s.entries = append(s.entries, msg)
	metrics.TimelineEntries.Set(float64(len(s.entries)))
	return true
}

// Conversation returns the messages exchanged between selfID and peerID,
// in insertion order. REST-loaded history is pre-ordered by the server;
// live and local entries follow, so the result is chronological under
// normal operation without re-sorting by timestamp.
func (s *Store) Conversation(selfID, peerID string) []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []protocol.Message
	for _, m := range s.entries {
		if belongsTo(m, selfID, peerID) {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the total number of messages held across all conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset clears the timeline for session teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.seen = make(map[string]struct{})
	s.gen++
	metrics.TimelineEntries.Set(0)
}

// belongsTo reports whether m is part of the conversation between self
// and peer, in either direction.
func belongsTo(m protocol.Message, selfID, peerID string) bool {
	return (m.Sender == selfID && m.Recipient == peerID) ||
		(m.Sender == peerID && m.Recipient == selfID)
}
