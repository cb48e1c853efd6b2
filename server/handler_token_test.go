package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type testTokenRequest struct {
	GrantType   string
	Code        string
	RedirectURI string
	ClientID    string
	Extra       url.Values
	Validate    func(r *http.Response)
}

func (tr *testTokenRequest) Do(h *handler) {
	form := url.Values{}
	if tr.GrantType != "" {
		form.Set("grant_type", tr.GrantType)
	}
	if tr.Code != "" {
		form.Set("code", tr.Code)
	}
	if tr.RedirectURI != "" {
		form.Set("redirect_uri", tr.RedirectURI)
	}
	if tr.ClientID != "" {
		form.Set("client_id", tr.ClientID)
	}
	for name, values := range tr.Extra {
		form[name] = values
	}
	req := httptest.NewRequest("POST", "http://test/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.serveTokenRequest(w, req)
	tr.Validate(w.Result())
}

func TestTokenRequestValidation(t *testing.T) {
	h := testHandler()
	clients := &countingClientMap{ClientMap: h.clients}
	tokens := &countingTokenStore{TokenStore: h.tokens}
	h.clients = clients
	h.tokens = tokens
	var tests = []*testTokenRequest{
		// No input at all
		{
			Validate: func(r *http.Response) {
				expectJSONError("no parameters", t, r, 400, "invalid_request")
			},
		},
		// Missing code
		{
			GrantType:   "authorization_code",
			RedirectURI: "http://client.example.com",
			ClientID:    testClientHex,
			Validate: func(r *http.Response) {
				expectJSONError("missing code", t, r, 400, "invalid_request")
			},
		},
		// client_id that is neither 12 bytes nor 24 hex characters
		{
			GrantType:   "authorization_code",
			Code:        "somecode",
			RedirectURI: "http://client.example.com",
			ClientID:    "tooshort",
			Validate: func(r *http.Response) {
				expectJSONError("short client_id", t, r, 400, "invalid_request")
			},
		},
		// 24 characters but not hex
		{
			GrantType:   "authorization_code",
			Code:        "somecode",
			RedirectURI: "http://client.example.com",
			ClientID:    "zzzzzzzzzzzzzzzzzzzzzzzz",
			Validate: func(r *http.Response) {
				expectJSONError("non-hex client_id", t, r, 400, "invalid_request")
			},
		},
		// Unsupported grant type
		{
			GrantType:   "password",
			Code:        "somecode",
			RedirectURI: "http://client.example.com",
			ClientID:    testClientHex,
			Validate: func(r *http.Response) {
				expectJSONError("password grant", t, r, 400, "unsupported_grant_type")
			},
		},
	}
	for _, tr := range tests {
		tr.Do(h)
	}
	// Validation failures must be decided before any storage access.
	if clients.calls != 0 {
		t.Fatalf("client registry touched %d times during validation", clients.calls)
	}
	if tokens.calls != 0 {
		t.Fatalf("token store touched %d times during validation", tokens.calls)
	}
}

func TestAuthorizationCodeExchange(t *testing.T) {
	h := testHandler()
	now := time.Now()
	seedToken(t, h, testCode("goodcode", testClientHex, []string{"read", "write"}, now.Add(time.Minute)))
	seedToken(t, h, testCode("expiredcode", testClientHex, nil, now.Add(-time.Minute)))
	spent := testCode("spentcode", testClientHex, nil, now.Add(time.Minute))
	access := now.Add(-time.Second)
	spent.LastAccess = &access
	seedToken(t, h, spent)
	revoked := testCode("revokedcode", testClientHex, nil, now.Add(time.Minute))
	revoked.Valid = false
	seedToken(t, h, revoked)

	var tests = []*testTokenRequest{
		// Unknown client
		{
			GrantType:   "authorization_code",
			Code:        "goodcode",
			RedirectURI: "http://client.example.com",
			ClientID:    "ffffffffffffffffffffffff",
			Validate: func(r *http.Response) {
				expectJSONError("unknown client", t, r, 401, "invalid_client")
			},
		},
		// Redirect mismatch
		{
			GrantType:   "authorization_code",
			Code:        "goodcode",
			RedirectURI: "http://evil.example.com",
			ClientID:    testClientHex,
			Validate: func(r *http.Response) {
				expectJSONError("redirect mismatch", t, r, 400, "invalid_grant")
			},
		},
		// Unknown code
		{
			GrantType:   "authorization_code",
			Code:        "nosuchcode",
			RedirectURI: "http://client.example.com",
			ClientID:    testClientHex,
			Validate: func(r *http.Response) {
				expectJSONError("unknown code", t, r, 400, "invalid_grant")
			},
		},
		// Expired code
		{
			GrantType:   "authorization_code",
			Code:        "expiredcode",
			RedirectURI: "http://client.example.com",
			ClientID:    testClientHex,
			Validate: func(r *http.Response) {
				expectJSONError("expired code", t, r, 400, "invalid_grant")
			},
		},
		// Already consumed code
		{
			GrantType:   "authorization_code",
			Code:        "spentcode",
			RedirectURI: "http://client.example.com",
			ClientID:    testClientHex,
			Validate: func(r *http.Response) {
				expectJSONError("consumed code", t, r, 400, "invalid_grant")
			},
		},
		// Revoked code
		{
			GrantType:   "authorization_code",
			Code:        "revokedcode",
			RedirectURI: "http://client.example.com",
			ClientID:    testClientHex,
			Validate: func(r *http.Response) {
				expectJSONError("revoked code", t, r, 400, "invalid_grant")
			},
		},
		// The happy path
		{
			GrantType:   "authorization_code",
			Code:        "goodcode",
			RedirectURI: "http://client.example.com",
			ClientID:    testClientHex,
			Extra:       url.Values{"flavor": {"vanilla"}},
			Validate: func(r *http.Response) {
				if r.StatusCode != 200 {
					t.Fatalf("exchange: unexpected status: %s (%s)", r.Status, responseBody(t, r))
				}
				var body map[string]interface{}
				if err := json.Unmarshal(responseBody(t, r), &body); err != nil {
					t.Fatal(err)
				}
				value, ok := body["access_token"].(string)
				if !ok || value == "" {
					t.Fatalf("exchange: no access_token in response: %v", body)
				}
				if body["token_type"] != "bearer" {
					t.Fatalf("exchange: unexpected token_type: %v", body["token_type"])
				}
				if body["expires_in"] != float64(5) {
					t.Fatalf("exchange: unexpected expires_in: %v", body["expires_in"])
				}
				// Pass-through fields are echoed, protocol fields are not.
				if body["flavor"] != "vanilla" {
					t.Fatalf("exchange: flavor not echoed: %v", body)
				}
				for _, reserved := range []string{"grant_type", "redirect_uri", "client_id", "code"} {
					if _, ok := body[reserved]; ok {
						t.Fatalf("exchange: reserved field %s echoed", reserved)
					}
				}
				// The issued token carries the code's user and scopes.
				matches, err := h.tokens.Find(TokenFilter{Value: value, Type: AccessToken, Valid: true})
				if err != nil || len(matches) != 1 {
					t.Fatalf("exchange: issued token not stored: %v %v", matches, err)
				}
				issued := matches[0]
				if issued.UserID != "user:1" {
					t.Fatalf("exchange: unexpected user: %s", issued.UserID)
				}
				if len(issued.Scopes) != 2 || issued.Scopes[0] != "read" || issued.Scopes[1] != "write" {
					t.Fatalf("exchange: unexpected scopes: %v", issued.Scopes)
				}
				if issued.Consumed() {
					t.Fatal("exchange: fresh access token marked consumed")
				}
			},
		},
		// A second exchange of the same code always fails
		{
			GrantType:   "authorization_code",
			Code:        "goodcode",
			RedirectURI: "http://client.example.com",
			ClientID:    testClientHex,
			Validate: func(r *http.Response) {
				expectJSONError("double exchange", t, r, 400, "invalid_grant")
			},
		},
	}
	for _, tr := range tests {
		tr.Do(h)
	}
}

// An access token's value must not be exchangeable as a code.
func TestExchangeRejectsAccessTokenValue(t *testing.T) {
	h := testHandler()
	token := testCode("accessvalue", testClientHex, nil, time.Now().Add(time.Minute))
	token.Type = AccessToken
	seedToken(t, h, token)
	tr := &testTokenRequest{
		GrantType:   "authorization_code",
		Code:        "accessvalue",
		RedirectURI: "http://client.example.com",
		ClientID:    testClientHex,
		Validate: func(r *http.Response) {
			expectJSONError("access token as code", t, r, 400, "invalid_grant")
		},
	}
	tr.Do(h)
}

// When every generated value collides the exchange reports a server error,
// and the code is given back for a retry.
func TestExchangeFailsOnPersistentCollision(t *testing.T) {
	h := testHandler()
	seedToken(t, h, testCode("collidingcode", testClientHex, nil, time.Now().Add(time.Minute)))
	store := &collidingTokenStore{TokenStore: h.tokens, collisions: maxGenerateAttempts}
	h.tokens = store
	tr := &testTokenRequest{
		GrantType:   "authorization_code",
		Code:        "collidingcode",
		RedirectURI: "http://client.example.com",
		ClientID:    testClientHex,
		Validate: func(r *http.Response) {
			expectJSONError("persistent collision", t, r, 500, "server_error")
		},
	}
	tr.Do(h)
	matches, err := h.tokens.Find(TokenFilter{Value: "collidingcode", Type: AuthorizationCode, Valid: true})
	if err != nil || len(matches) != 1 {
		t.Fatalf("code not stored after rollback: %v %v", matches, err)
	}
	if matches[0].Consumed() {
		t.Fatal("code still marked consumed after a failed exchange")
	}
}

// Concurrent exchanges of one code must yield exactly one access token.
func TestConcurrentExchange(t *testing.T) {
	h := testHandler()
	seedToken(t, h, testCode("racedcode", testClientHex, nil, time.Now().Add(time.Minute)))
	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			form := url.Values{
				"grant_type":   {"authorization_code"},
				"code":         {"racedcode"},
				"redirect_uri": {"http://client.example.com"},
				"client_id":    {testClientHex},
			}
			req := httptest.NewRequest("POST", "http://test/token", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			h.serveTokenRequest(w, req)
			r := w.Result()
			mu.Lock()
			defer mu.Unlock()
			switch r.StatusCode {
			case 200:
				successes++
			case 400:
				failures++
			default:
				t.Errorf("unexpected status: %s", r.Status)
			}
		}()
	}
	wg.Wait()
	if successes != 1 || failures != n-1 {
		t.Fatalf("expected 1 success and %d failures, got %d and %d", n-1, successes, failures)
	}
}
