package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// credentialsCookie carries the login service's signed assertion on
// subsequent requests, so an already logged-in user isn't bounced through
// the login service again.
const credentialsCookie = "credentials"

type jwtHeader struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

type jwtPayload struct {
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Subject   string `json:"sub"`
}

// loginAuthn is a server.Authenticator backed by an external login service.
// The login service authenticates the resource owner and redirects back to
// the given callback with a credentials parameter: an HS256 JWT carrying the
// user as its subject, signed with a secret shared with this service.
type loginAuthn struct {
	loginURL *url.URL
	secret   []byte
}

func newLoginAuthn(loginURL string, secret []byte) (*loginAuthn, error) {
	u, err := url.Parse(loginURL)
	if err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, errors.New("login secret missing")
	}
	return &loginAuthn{u, secret}, nil
}

// Subject implements server.Authenticator.
func (a *loginAuthn) Subject(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(credentialsCookie)
	if err != nil {
		return "", false
	}
	subject, err := a.verifyCredentials(cookie.Value)
	if err != nil {
		log.WithFields(log.Fields{
			"type":  "session check",
			"error": err,
		}).Info("Ignoring invalid credentials cookie")
		return "", false
	}
	return subject, true
}

// AuthnRedirect implements server.Authenticator.
func (a *loginAuthn) AuthnRedirect(callbackURL *url.URL) (*url.URL, error) {
	login := *a.loginURL
	query := login.Query()
	query.Set("callback", callbackURL.String())
	login.RawQuery = query.Encode()
	return &login, nil
}

// User implements server.Authenticator.
func (a *loginAuthn) User(r *http.Request) (string, error) {
	credentials := r.URL.Query().Get("credentials")
	if credentials == "" {
		return "", errors.New("credentials parameter missing from request")
	}
	return a.verifyCredentials(credentials)
}

// verifyCredentials checks the signature and expiry of a credentials token
// and returns its subject.
func (a *loginAuthn) verifyCredentials(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", errors.New("credentials token is not a jwt")
	}
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	digest := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(digest), []byte(parts[2])) {
		return "", errors.New("invalid credentials signature")
	}
	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", err
	}
	var header jwtHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return "", err
	}
	if header.Algorithm != "HS256" {
		return "", errors.New("unsupported credentials algorithm: " + header.Algorithm)
	}
	rawPayload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", err
	}
	var payload jwtPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return "", err
	}
	if payload.ExpiresAt <= time.Now().Unix() {
		return "", errors.New("credentials expired")
	}
	if payload.Subject == "" {
		return "", errors.New("credentials carry no subject")
	}
	return payload.Subject, nil
}
