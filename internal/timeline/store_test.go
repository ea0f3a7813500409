package timeline

import (
	"testing"
	"time"

	"github.com/mernchat/chat-client/internal/protocol"
)

func msg(id, sender, recipient, text string) protocol.Message {
	return protocol.Message{
		ID: id, Sender: sender, Recipient: recipient, Text: text,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAppendPushDedupeIdempotence(t *testing.T) {
	s := NewStore()

	m := msg("m1", "a1", "b2", "hello")
	if !s.AppendPush(m) {
		t.Fatal("first append should succeed")
	}
	if s.AppendPush(m) {
		t.Error("second append with same id should be dropped")
	}

	conv := s.Conversation("b2", "a1")
	if len(conv) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv))
	}
}

func TestFirstSeenWins(t *testing.T) {
	s := NewStore()

	s.AppendPush(msg("m1", "a1", "b2", "original"))
	s.AppendPush(msg("m1", "a1", "b2", "revised"))

	conv := s.Conversation("b2", "a1")
	if conv[0].Text != "original" {
		t.Errorf("expected first-seen entry to win, got %q", conv[0].Text)
	}
}

func TestLocalEchoAppearsImmediately(t *testing.T) {
	s := NewStore()

	echo := s.AppendLocalEcho("b2", "a1", "hi")
	if echo.ID == "" {
		t.Fatal("local echo must carry a client-generated id")
	}
	if echo.Sender != "b2" || echo.Recipient != "a1" || echo.Text != "hi" {
		t.Errorf("unexpected echo: %+v", echo)
	}

	conv := s.Conversation("b2", "a1")
	if len(conv) != 1 || conv[0].ID != echo.ID {
		t.Fatalf("expected the echo in the conversation, got %+v", conv)
	}
}

func TestLocalEchoIDsDistinctWithinSameMillisecond(t *testing.T) {
	s := NewStore()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		echo := s.AppendLocalEcho("b2", "a1", "spam")
		if seen[echo.ID] {
			t.Fatalf("duplicate echo id %q at iteration %d", echo.ID, i)
		}
		seen[echo.ID] = true
	}

	if got := len(s.Conversation("b2", "a1")); got != 100 {
		t.Fatalf("expected 100 messages, got %d", got)
	}
}

func TestLocalEchoAuthoritativeOverServerEcho(t *testing.T) {
	s := NewStore()

	echo := s.AppendLocalEcho("b2", "a1", "hi")

	// Server echoes the message back reusing the same id but with
	// server-corrected fields; the local entry must stay.
	serverCopy := msg(echo.ID, "b2", "a1", "hi (server)")
	if s.AppendPush(serverCopy) {
		t.Error("server echo with duplicate id must be dropped")
	}

	conv := s.Conversation("b2", "a1")
	if len(conv) != 1 || conv[0].Text != "hi" {
		t.Errorf("expected local echo to remain authoritative, got %+v", conv)
	}
}

func TestConversationIsolation(t *testing.T) {
	s := NewStore()

	s.AppendPush(msg("m1", "a1", "b2", "from alice"))
	s.AppendPush(msg("m2", "b2", "a1", "to alice"))
	s.AppendPush(msg("m3", "c3", "b2", "from carol"))
	s.AppendPush(msg("m4", "a1", "c3", "alice to carol"))

	convA := s.Conversation("b2", "a1")
	if len(convA) != 2 {
		t.Fatalf("expected 2 messages with a1, got %d", len(convA))
	}
	for _, m := range convA {
		if m.Sender == "c3" || m.Recipient == "c3" {
			t.Errorf("conversation with a1 leaked a c3 message: %+v", m)
		}
	}

	convC := s.Conversation("b2", "c3")
	if len(convC) != 1 || convC[0].ID != "m3" {
		t.Fatalf("expected only m3 in conversation with c3, got %+v", convC)
	}
}

func TestLoadHistoryReplacesConversation(t *testing.T) {
	s := NewStore()

	s.AppendPush(msg("old1", "a1", "b2", "stale"))
	s.AppendPush(msg("keep", "c3", "b2", "other conversation"))

	gen := s.Begin()
	ok := s.LoadHistory("b2", "a1", gen, []protocol.Message{
		msg("h1", "a1", "b2", "first"),
		msg("h2", "b2", "a1", "second"),
	})
	if !ok {
		t.Fatal("current-generation load must be applied")
	}

	conv := s.Conversation("b2", "a1")
	if len(conv) != 2 || conv[0].ID != "h1" || conv[1].ID != "h2" {
		t.Fatalf("expected replaced history [h1 h2], got %+v", conv)
	}

	// The other conversation is untouched.
	other := s.Conversation("b2", "c3")
	if len(other) != 1 || other[0].ID != "keep" {
		t.Fatalf("expected other conversation preserved, got %+v", other)
	}
}

func TestStaleHistoryResponseDiscarded(t *testing.T) {
	s := NewStore()

	genA := s.Begin()
	genB := s.Begin() // a newer request supersedes A

	if s.LoadHistory("b2", "a1", genA, []protocol.Message{msg("a", "a1", "b2", "late")}) {
		t.Error("stale response for generation A must be discarded")
	}
	if !s.LoadHistory("b2", "c3", genB, []protocol.Message{msg("b", "c3", "b2", "fresh")}) {
		t.Error("current response for generation B must be applied")
	}

	if got := s.Conversation("b2", "a1"); len(got) != 0 {
		t.Errorf("stale history leaked into conversation: %+v", got)
	}
	if got := s.Conversation("b2", "c3"); len(got) != 1 {
		t.Errorf("expected fresh history applied, got %+v", got)
	}
}

func TestLoadHistoryAfterResetDiscarded(t *testing.T) {
	s := NewStore()

	gen := s.Begin()
	s.Reset()

	if s.LoadHistory("b2", "a1", gen, []protocol.Message{msg("x", "a1", "b2", "late")}) {
		t.Error("history issued before a reset must be discarded")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty timeline, got %d entries", s.Len())
	}
}

func TestLoadHistorySkipsMessagesWithoutIDs(t *testing.T) {
	s := NewStore()

	gen := s.Begin()
	s.LoadHistory("b2", "a1", gen, []protocol.Message{
		{Sender: "a1", Recipient: "b2", Text: "no id"},
		msg("h1", "a1", "b2", "ok"),
	})

	conv := s.Conversation("b2", "a1")
	if len(conv) != 1 || conv[0].ID != "h1" {
		t.Fatalf("expected only the id-bearing message, got %+v", conv)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := NewStore()
	s.AppendPush(msg("m1", "a1", "b2", "hello"))
	s.AppendLocalEcho("b2", "a1", "hi")

	s.Reset()

	if s.Len() != 0 {
		t.Fatalf("expected empty timeline after reset, got %d", s.Len())
	}
	// Ids seen before the reset are forgotten; the same id may be
	// inserted again in the next session.
	if !s.AppendPush(msg("m1", "a1", "b2", "hello again")) {
		t.Error("expected id m1 to be insertable after reset")
	}
}
