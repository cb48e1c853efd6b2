package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/bmizerany/pat"
)

const (
	defaultTokenLifetime = 3600 * time.Second
	defaultStateLifetime = 600 * time.Second
	defaultRealm         = "oauth2"
)

// maxGenerateAttempts bounds value regeneration on a duplicate token value.
const maxGenerateAttempts = 3

type handler struct {
	callbackURL url.URL
	realm       string
	tokenTTL    time.Duration

	// Lookups / interfaces
	clients    ClientMap
	tokens     TokenStore
	stateStore *stateStorage
	authn      Authenticator
}

// Handler returns an http.Handler that serves the OAuth 2.0 token,
// authorization and verification endpoints for the service running at
// baseURL.
func Handler(baseURL string, options ...Option) (http.Handler, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	cb, err := u.Parse("callback")
	if err != nil {
		return nil, err
	}
	h := &handler{
		callbackURL: *cb,
		realm:       defaultRealm,
		tokenTTL:    defaultTokenLifetime,
	}
	// First we set options
	for _, option := range options {
		if err := option(h); err != nil {
			return nil, err
		}
	}
	// Set default token storage if none given
	if h.tokens == nil {
		log.Println("WARN: using in-memory token storage")
		h.tokens = newTokenMap()
	}
	// Set default transient store if none given
	if h.stateStore == nil {
		log.Println("WARN: Using in-memory state storage")
		h.stateStore = newStateStorage(newStateMap(), defaultStateLifetime)
	} else {
		h.checkStateStore()
	}
	// Set default clientmap if no ClientMap is given
	if h.clients == nil {
		log.Println("WARN: using empty client map")
		h.clients = emptyClientMap{}
	}
	// Warn if no authenticator is set
	if h.authn == nil {
		log.Println("WARN: no authenticator registered")
		h.authn = anonymousAuthn{}
	}

	mux := pat.New()
	mux.Post("/token", http.HandlerFunc(timedHandler(h.serveTokenRequest, "token")))
	mux.Get("/authorize", http.HandlerFunc(timedHandler(h.serveAuthorizationRequest, "authorize")))
	mux.Get("/callback", http.HandlerFunc(timedHandler(h.serveLoginCallback, "callback")))
	mux.Get("/verify", http.HandlerFunc(timedHandler(h.serveVerificationRequest, "verify")))
	return mux, nil
}

// checkStateStore makes sure a key / value pair is only restored once.
func (h *handler) checkStateStore() {
	var probe string
	if err := h.stateStore.persist("test", "checkStateStore"); err != nil {
		log.Fatalf("State storage not working: %v\n", err)
	}
	if err := h.stateStore.restore("test", &probe); err != nil {
		log.Fatalf("State storage not working: %v\n", err)
	}
	if err := h.stateStore.restore("test", &probe); err == nil {
		log.Fatal("State storage not working: doesn't remove key on first restore")
	}
}

// lifetimeSeconds is the expires_in value reported in token responses.
func (h *handler) lifetimeSeconds() int {
	return int(h.tokenTTL / time.Second)
}

// createToken generates and persists a token record of the given type. A
// duplicate value is regenerated, never silently accepted.
func (h *handler) createToken(
	typ TokenType, userID string, clientID string, scopes []string, now time.Time,
) (*Token, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		t := newToken(typ, userID, clientID, scopes, h.tokenTTL, now)
		err := h.tokens.Create(t)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrDuplicateToken) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("token value collision persisted after %d attempts", maxGenerateAttempts)
}
