package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestLoginReturnsUserID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Errorf("decode credentials: %v", err)
		}
		if creds.Username != "bob" || creds.Password != "secret" {
			t.Errorf("unexpected credentials: %+v", creds)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "b2"})
	}))

	id, err := c.Login(context.Background(), "bob", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id != "b2" {
		t.Errorf("expected id b2, got %q", id)
	}
}

func TestLoginRejectionIsAPIError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"error field", `{"error":"wrong password"}`},
		{"msg field", `{"msg":"wrong password"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))

			_, err := c.Login(context.Background(), "bob", "nope")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.Message != "wrong password" {
				t.Errorf("unexpected message: %q", apiErr.Message)
			}
		})
	}
}

func TestErrorBodyWithOKStatusIsStillAnError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"error":"database unavailable"}`))
	}))

	_, err := c.Friends(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError for 2xx error body, got %v", err)
	}
}

func TestFriendsDecodesContacts(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/friends" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"_id":"a1","username":"alice"},{"id":"c3","username":"carol","online":true}]`))
	}))

	contacts, err := c.Friends(context.Background())
	if err != nil {
		t.Fatalf("Friends: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(contacts))
	}
	if contacts[0].ID != "a1" || contacts[0].Username != "alice" {
		t.Errorf("unexpected first contact: %+v", contacts[0])
	}
	if !contacts[1].Online {
		t.Error("expected carol online")
	}
}

func TestMessagesEscapesPeerID(t *testing.T) {
	var gotPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`[]`))
	}))

	if _, err := c.Messages(context.Background(), "a/1"); err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if gotPath != "/messages/a%2F1" {
		t.Errorf("expected escaped peer id in path, got %q", gotPath)
	}
}

func TestMessagesDecodesHistory(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"_id":"m1","sender":"a1","recipient":"b2","text":"hi","createdAt":"2024-03-01T12:00:00Z"}]`))
	}))

	msgs, err := c.Messages(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || msgs[0].Text != "hi" {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestAddFriendReturnsConfirmedContact(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/addFriend/dave" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"friend":{"_id":"d4","username":"dave","online":true}}`))
	}))

	friend, err := c.AddFriend(context.Background(), "dave")
	if err != nil {
		t.Fatalf("AddFriend: %v", err)
	}
	if friend.ID != "d4" || friend.Username != "dave" || !friend.Online {
		t.Errorf("unexpected friend: %+v", friend)
	}
}

func TestAddFriendDuplicateRejection(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"msg":"already friends"}`))
	}))

	_, err := c.AddFriend(context.Background(), "dave")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "already friends" {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
}

func TestLogoutAcceptsEmptyBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logout" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
}

func TestNon2xxWithoutBodySignal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Friends(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError for bad status, got %v", err)
	}
}

func TestSessionCookiePersists(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "token", Value: "jwt-here", Path: "/"})
			json.NewEncoder(w).Encode(map[string]string{"id": "b2"})
		case "/friends":
			if cookie, err := r.Cookie("token"); err != nil || cookie.Value != "jwt-here" {
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			w.Write([]byte(`[]`))
		}
	}))

	if _, err := c.Login(context.Background(), "bob", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := c.Friends(context.Background()); err != nil {
		t.Fatalf("Friends after login should carry the session cookie: %v", err)
	}
}
