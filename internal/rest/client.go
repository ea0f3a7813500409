// Package rest implements the HTTP side of the chat protocol: login,
// register, logout, the contact roster, per-conversation history, and
// adding contacts. The server authenticates with a session cookie, so
// the client carries a cookie jar. No call is ever retried here; retry
// policy exists only on the push channel.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/mernchat/chat-client/internal/metrics"
	"github.com/mernchat/chat-client/internal/protocol"
)

// DefaultTimeout bounds each REST call.
const DefaultTimeout = 10 * time.Second

// APIError is a content-level rejection from the server: a response body
// carrying an "error" or "msg" field, regardless of HTTP status.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: server rejected request: %s", e.Message)
}

// Client issues the REST calls the sync core consumes.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a REST client for the given base URL, with a cookie
// jar for the server's session cookie.
func NewClient(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("rest: failed to create cookie jar: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: DefaultTimeout,
			Jar:     jar,
		},
	}, nil
}

// credentials is the login/register request body.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates an existing user and returns the user's id. A
// rejection (bad credentials) is returned as *APIError.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/login", username, password)
}

// Register creates a new account and returns the new user's id. A
// rejection (duplicate username, weak password) is returned as *APIError.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/register", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, path, credentials{Username: username, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &APIError{Message: "missing user id in response"}
	}
	return resp.ID, nil
}

// Logout invalidates the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/logout", nil, nil)
}

// Friends fetches the authoritative contact roster.
func (c *Client) Friends(ctx context.Context) ([]protocol.Contact, error) {
	var contacts []protocol.Contact
	if err := c.get(ctx, "/friends", &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// Messages fetches the conversation history with the given peer, ordered
// by server timestamp.
func (c *Client) Messages(ctx context.Context, peerID string) ([]protocol.Message, error) {
	var msgs []protocol.Message
	if err := c.get(ctx, "/messages/"+url.PathEscape(peerID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// AddFriend asks the server to add the named user as a contact and
// returns the confirmed contact. A rejection (unknown username,
// duplicate) is returned as *APIError.
func (c *Client) AddFriend(ctx context.Context, username string) (protocol.Contact, error) {
	var resp struct {
		Friend protocol.Contact `json:"friend"`
	}
	if err := c.post(ctx, "/addFriend/"+url.PathEscape(username), nil, &resp); err != nil {
		return protocol.Contact{}, err
	}
	if resp.Friend.ID == "" {
		return protocol.Contact{}, &APIError{Message: "missing friend in response"}
	}
	return resp.Friend, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("rest: failed to build request: %w", err)
	}
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("rest: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

// do executes the request, surfaces body-level error signals as
// *APIError, and decodes the response into out when non-nil. The
// endpoint label feeds the latency histogram.
func (c *Client) do(req *http.Request, endpoint string, out interface{}) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RESTDuration.WithLabelValues(endpointLabel(req.Method, endpoint)).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("rest: %s %s: failed to read response: %w", req.Method, endpoint, err)
	}
	body := buf.Bytes()

	// The server signals content-level failures in the body, sometimes
	// with a 2xx status, so the body is checked before the status code.
	if msg, ok := errorSignal(body); ok {
		return &APIError{Message: msg}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("rest: %s %s: failed to decode response: %w", req.Method, endpoint, err)
	}
	return nil
}

// errorSignal reports whether a response body carries an "error" or
// "msg" field and returns its value.
func errorSignal(body []byte) (string, bool) {
	var probe struct {
		Error *string `json:"error"`
		Msg   *string `json:"msg"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", false // not a JSON object (e.g. an array response)
	}
	if probe.Error != nil {
		return *probe.Error, true
	}
	if probe.Msg != nil {
		return *probe.Msg, true
	}
	return "", false
}

// endpointLabel collapses path parameters so metric cardinality stays
// bounded.
func endpointLabel(method, path string) string {
	switch {
	case len(path) >= len("/messages/") && path[:len("/messages/")] == "/messages/":
		path = "/messages/:peer"
	case len(path) >= len("/addFriend/") && path[:len("/addFriend/")] == "/addFriend/":
		path = "/addFriend/:username"
	}
	return method + " " + path
}
