package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"
)

// Option is a handler setting that can be passed to Handler().
type Option func(*handler) error

// Clients is an option that sets the given client registry for the handler
// instance.
func Clients(m ClientMap) Option {
	return func(h *handler) error {
		h.clients = m
		return nil
	}
}

// TokenStorage is an option that sets the token store for the handler
// instance.
func TokenStorage(store TokenStore) Option {
	return func(h *handler) error {
		h.tokens = store
		return nil
	}
}

// StateStorage is an option that sets the transient storage used to suspend
// authorization requests across login, with the given lifetime per request.
func StateStorage(engine StateKeeper, lifetime time.Duration) Option {
	return func(h *handler) error {
		h.stateStore = newStateStorage(engine, lifetime)
		return nil
	}
}

// AccessTokenLifetime is an option that sets the lifetime of issued access
// tokens.
func AccessTokenLifetime(lifetime time.Duration) Option {
	return func(h *handler) error {
		if lifetime <= 0 {
			return errors.New("access token lifetime must be positive")
		}
		h.tokenTTL = lifetime
		return nil
	}
}

// Realm is an option that sets the realm reported in WWW-Authenticate
// headers.
func Realm(realm string) Option {
	return func(h *handler) error {
		h.realm = realm
		return nil
	}
}

// Authn is an option that sets the given authenticator for the handler
// instance.
func Authn(a Authenticator) Option {
	return func(h *handler) error {
		h.authn = a
		return nil
	}
}

// Client contains the registered data of an OAuth 2.0 client. Client records
// are read-only for this package; registration and administration happen
// elsewhere.
type Client struct {
	// Client identifier: 12 raw bytes or their 24 character hex form.
	ID string
	// Registered redirect endpoint.
	RedirectURI string
	// Human readable client name.
	Name string
	// Client secret.
	Secret string
}

// ErrClientNotFound is returned by ClientMap implementations for unknown
// identifiers. Any other error is treated as a storage failure.
var ErrClientNotFound = errors.New("unknown client id")

// ClientMap is implemented by client registries and used to look up client
// data in all flows.
type ClientMap interface {
	// Get returns the client for this identifier, or ErrClientNotFound.
	Get(id string) (*Client, error)
}

// Authenticator is implemented by the external login service. It reports the
// resource owner behind a request and produces the login redirect for
// requests that arrive without one.
type Authenticator interface {
	// Subject returns the authenticated user for this request, or false if
	// the request carries no authenticated session.
	Subject(r *http.Request) (string, bool)
	// AuthnRedirect returns the login URL to send the user agent to. The
	// login flow must eventually redirect the user agent to callbackURL.
	AuthnRedirect(callbackURL *url.URL) (*url.URL, error)
	// User extracts the authenticated user from the post-login callback.
	User(r *http.Request) (string, error)
}

// emptyClientMap is the default ClientMap.
type emptyClientMap struct{}

func (m emptyClientMap) Get(id string) (*Client, error) {
	return nil, ErrClientNotFound
}

// anonymousAuthn is the default Authenticator. It never authenticates
// anyone.
type anonymousAuthn struct{}

func (a anonymousAuthn) Subject(r *http.Request) (string, bool) {
	return "", false
}

func (a anonymousAuthn) AuthnRedirect(callbackURL *url.URL) (*url.URL, error) {
	return nil, errors.New("no authenticator registered")
}

func (a anonymousAuthn) User(r *http.Request) (string, error) {
	return "", errors.New("no authenticator registered")
}
