// Package protocol defines the wire types exchanged with the chat server
// and the decoder that turns raw push-channel bytes into typed frames.
// The server does not use a type discriminator; each frame is identified
// by which top-level field is present. DecodeFrame performs that check
// exactly once at the boundary so the rest of the client only ever sees
// typed values.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Contact is a roster entry. ID and Username are immutable once created;
// Online is the only mutable field.
type Contact struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// UnmarshalJSON accepts both "id" and the server's Mongo-style "_id" key.
func (c *Contact) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string `json:"id"`
		MongoID  string `json:"_id"`
		Username string `json:"username"`
		Online   bool   `json:"online"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: failed to decode contact: %w", err)
	}
	c.ID = raw.ID
	if c.ID == "" {
		c.ID = raw.MongoID
	}
	c.Username = raw.Username
	c.Online = raw.Online
	return nil
}

// Message is a single chat message. Messages are immutable and unique by
// ID within a session's timeline.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// UnmarshalJSON accepts both "id" and the server's Mongo-style "_id" key.
// A missing or malformed createdAt is left as the zero time rather than
// rejecting the message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		MongoID   string          `json:"_id"`
		Sender    string          `json:"sender"`
		Recipient string          `json:"recipient"`
		Text      string          `json:"text"`
		CreatedAt json.RawMessage `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("protocol: failed to decode message: %w", err)
	}
	m.ID = raw.ID
	if m.ID == "" {
		m.ID = raw.MongoID
	}
	m.Sender = raw.Sender
	m.Recipient = raw.Recipient
	m.Text = raw.Text
	m.CreatedAt = time.Time{}
	if len(raw.CreatedAt) > 0 {
		var t time.Time
		if err := json.Unmarshal(raw.CreatedAt, &t); err == nil {
			m.CreatedAt = t
		}
	}
	return nil
}

// Peer identifies one online user inside a presence snapshot.
type Peer struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ---------------------------------------------------------------------------
// Frame kinds
// ---------------------------------------------------------------------------

// Frame kind labels, used for dispatch and as metric label values.
const (
	KindSnapshot  = "snapshot"
	KindDelta     = "delta"
	KindText      = "text"
	KindAddFriend = "add_friend"
	KindError     = "error"
)

// Frame is an inbound push-channel frame decoded into one of the five
// concrete variants below.
type Frame interface {
	// Kind returns the frame kind label.
	Kind() string
}

// SnapshotFrame is a full presence snapshot: the complete set of peers
// currently online.
type SnapshotFrame struct {
	Peers []Peer
}

func (SnapshotFrame) Kind() string { return KindSnapshot }

// DeltaFrame is an incremental presence change for a single contact.
type DeltaFrame struct {
	UserID string
	Online bool
}

func (DeltaFrame) Kind() string { return KindDelta }

// TextFrame carries one chat message pushed by the server.
type TextFrame struct {
	Message Message
}

func (TextFrame) Kind() string { return KindText }

// AddFriendFrame announces that a new contact became available.
type AddFriendFrame struct {
	Contact Contact
}

func (AddFriendFrame) Kind() string { return KindAddFriend }

// ErrorFrame carries a fatal server-side error condition.
type ErrorFrame struct {
	Detail string
}

func (ErrorFrame) Kind() string { return KindError }

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// DecodeFrame parses raw push-channel bytes into a typed Frame. Frames are
// identified by field presence, checked in priority order with "error"
// first so a frame that carries an error alongside other fields still
// surfaces the error. Frames matching none of the known shapes return an
// error and should be dropped by the caller.
func DecodeFrame(data []byte) (Frame, error) {
	var probe struct {
		Online    json.RawMessage `json:"online"`
		Status    json.RawMessage `json:"status"`
		AddFriend json.RawMessage `json:"addFriend"`
		Error     *string         `json:"error"`
		Text      *string         `json:"text"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("protocol: malformed frame: %w", err)
	}

	switch {
	case probe.Error != nil:
		return ErrorFrame{Detail: *probe.Error}, nil

	case probe.Online != nil:
		var peers []Peer
		if err := json.Unmarshal(probe.Online, &peers); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode presence snapshot: %w", err)
		}
		return SnapshotFrame{Peers: peers}, nil

	case probe.Status != nil:
		var status struct {
			UserID string `json:"userId"`
			Status bool   `json:"status"`
		}
		if err := json.Unmarshal(probe.Status, &status); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode presence delta: %w", err)
		}
		return DeltaFrame{UserID: status.UserID, Online: status.Status}, nil

	case probe.AddFriend != nil:
		var contact Contact
		if err := json.Unmarshal(probe.AddFriend, &contact); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode addFriend: %w", err)
		}
		return AddFriendFrame{Contact: contact}, nil

	case probe.Text != nil:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("protocol: failed to decode chat message: %w", err)
		}
		return TextFrame{Message: msg}, nil

	default:
		return nil, fmt.Errorf("protocol: unrecognized frame shape")
	}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Send is the only outbound push-channel frame: a chat message addressed
// to a single recipient.
type Send struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// EncodeSend serializes an outbound chat message.
func EncodeSend(recipient, text string) ([]byte, error) {
	out, err := json.Marshal(Send{Recipient: recipient, Text: text})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to encode send frame: %w", err)
	}
	return out, nil
}
