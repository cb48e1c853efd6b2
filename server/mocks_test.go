package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"
)

// Well-formed client identifiers: 24 hex characters and 12 raw bytes.
const (
	testClientHex = "cafebabe1337deadbeef0042"
	testClientRaw = "regularjoe12"
)

///////////////////////
// Mock objects
///////////////////////
func testHandler() *handler {
	clients := testClientMap{
		&Client{
			ID:          testClientHex,
			RedirectURI: "http://client.example.com",
			Name:        "Test client",
			Secret:      "s3cr3t",
		},
		&Client{
			ID:          testClientRaw,
			RedirectURI: "http://other.example.com/cb",
			Name:        "Other test client",
			Secret:      "t0ps3cr3t",
		},
		&Client{
			ID:          "baredclient1",
			RedirectURI: "",
			Name:        "Client without a registered redirect",
			Secret:      "",
		},
	}
	callback, _ := url.Parse("http://testserver/callback")
	return &handler{
		callbackURL: *callback,
		realm:       "testrealm",
		tokenTTL:    5 * time.Second,
		clients:     clients,
		tokens:      newTokenMap(),
		stateStore:  newStateStorage(newStateMap(), 10*time.Second),
		authn:       testAuthn{"user:1": true, "user:2": true},
	}
}

// seedToken stores a token record directly, bypassing the grant engine.
func seedToken(t *testing.T, h *handler, token *Token) {
	t.Helper()
	if err := h.tokens.Save(token); err != nil {
		t.Fatal(err)
	}
}

func testCode(value string, clientID string, scopes []string, expiresAt time.Time) *Token {
	return &Token{
		ID:        "code-" + value,
		Value:     value,
		UserID:    "user:1",
		ClientID:  clientID,
		Created:   time.Now(),
		ExpiresAt: expiresAt,
		Type:      AuthorizationCode,
		Scopes:    scopes,
		Valid:     true,
	}
}

///////////////////
// A mock authenticator
///////////////////
type testAuthn map[string]bool

// Subject reads the authenticated user from a test header.
func (a testAuthn) Subject(r *http.Request) (string, bool) {
	uid := r.Header.Get("X-Authn-User")
	if uid == "" {
		return "", false
	}
	return uid, true
}

func (a testAuthn) AuthnRedirect(callbackURL *url.URL) (*url.URL, error) {
	login, _ := url.Parse("http://login.test/")
	query := login.Query()
	query.Set("callback", callbackURL.String())
	login.RawQuery = query.Encode()
	return login, nil
}

// User returns the uid query parameter if it names a known user.
func (a testAuthn) User(r *http.Request) (string, error) {
	uid := r.URL.Query().Get("uid")
	if !a[uid] {
		return "", errors.New("unknown uid")
	}
	return uid, nil
}

///////////////////
// Mock client map type
///////////////////
type testClientMap []*Client

func (m testClientMap) Get(id string) (*Client, error) {
	for _, c := range m {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrClientNotFound
}

// countingClientMap records how often the registry was consulted.
type countingClientMap struct {
	ClientMap
	calls int
}

func (m *countingClientMap) Get(id string) (*Client, error) {
	m.calls++
	return m.ClientMap.Get(id)
}

// countingTokenStore records how often the token store was touched.
type countingTokenStore struct {
	TokenStore
	calls int
}

func (s *countingTokenStore) Find(f TokenFilter) ([]*Token, error) {
	s.calls++
	return s.TokenStore.Find(f)
}

func (s *countingTokenStore) Create(t *Token) error {
	s.calls++
	return s.TokenStore.Create(t)
}

func (s *countingTokenStore) Save(t *Token) error {
	s.calls++
	return s.TokenStore.Save(t)
}

func (s *countingTokenStore) Consume(value string, now time.Time) (*Token, error) {
	s.calls++
	return s.TokenStore.Consume(value, now)
}

// collidingTokenStore reports a duplicate value for the first collisions
// Create calls and records every attempted value.
type collidingTokenStore struct {
	TokenStore
	collisions int
	attempts   []string
}

func (s *collidingTokenStore) Create(t *Token) error {
	s.attempts = append(s.attempts, t.Value)
	if len(s.attempts) <= s.collisions {
		return ErrDuplicateToken
	}
	return s.TokenStore.Create(t)
}

///////////////////
// Helpers for parsing responses
///////////////////
func expectJSONError(
	title string, t *testing.T, r *http.Response, status int, code string,
) {
	t.Helper()
	if r.StatusCode != status {
		t.Fatalf("%s: unexpected status (expected %d, got %s)", title, status, r.Status)
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("%s: unexpected content type: %s", title, ct)
	}
	if www := r.Header.Get("WWW-Authenticate"); www == "" {
		t.Fatalf("%s: error response without WWW-Authenticate header", title)
	}
	var e oauthError
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		t.Fatalf("%s: couldn't decode error body: %s", title, err)
	}
	if e.Code != code {
		t.Fatalf("%s: invalid error (expected %s, got %s)", title, code, e.Code)
	}
}

func expectErrorRedirect(
	title string, t *testing.T, r *http.Response, code string, state string,
) url.Values {
	t.Helper()
	query := expectRedirect(title, t, r)
	if c := query.Get("error"); c != code {
		t.Fatalf("%s: invalid error (expected %s, got %s)", title, code, c)
	}
	if s := query.Get("state"); s != state {
		t.Fatalf("%s: invalid state (expected %s, got %s)", title, state, s)
	}
	return query
}

// expectRedirect asserts a 302 and returns the Location query.
func expectRedirect(title string, t *testing.T, r *http.Response) url.Values {
	t.Helper()
	if r.StatusCode != 302 {
		t.Fatalf("%s: unexpected status (expected 302, got %s)", title, r.Status)
	}
	location := r.Header.Get("Location")
	if location == "" {
		t.Fatalf("%s: HTTP 302 without Location header", title)
	}
	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("%s: couldn't parse Location header: %s", title, err)
	}
	return u.Query()
}

func responseBody(t *testing.T, r *http.Response) []byte {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	return body
}
