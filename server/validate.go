package server

import (
	"encoding/hex"
	"net/url"
	"strings"
)

// tokenRequest is a validated authorization code exchange request.
type tokenRequest struct {
	GrantType   string
	Code        string
	RedirectURI string
	ClientID    string
	// Extra holds the non-protocol fields, echoed back in the response.
	Extra url.Values
}

// authorizationRequest is a validated authorization request.
type authorizationRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string
	Scopes       []string
	State        string
}

// reservedTokenParams are protocol fields, never echoed back in a token
// response.
var reservedTokenParams = map[string]struct{}{
	"grant_type":    {},
	"redirect_uri":  {},
	"client_id":     {},
	"client_secret": {},
	"type":          {},
	"code":          {},
}

// validClientID accepts the two external client identifier encodings: 12 raw
// bytes or 24 hex characters.
func validClientID(id string) bool {
	if len(id) == 12 {
		return true
	}
	if len(id) != 24 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// parseTokenRequest validates the parameters of an authorization code
// exchange. It never touches storage.
func parseTokenRequest(form url.Values) (*tokenRequest, *oauthError) {
	req := &tokenRequest{
		GrantType:   form.Get("grant_type"),
		Code:        form.Get("code"),
		RedirectURI: form.Get("redirect_uri"),
		ClientID:    form.Get("client_id"),
		Extra:       url.Values{},
	}
	required := []struct{ name, value string }{
		{"grant_type", req.GrantType},
		{"code", req.Code},
		{"redirect_uri", req.RedirectURI},
		{"client_id", req.ClientID},
	}
	for _, p := range required {
		if p.value == "" {
			return nil, oauthErr(errInvalidRequest, p.name+" missing")
		}
	}
	if !validClientID(req.ClientID) {
		return nil, oauthErr(errInvalidRequest, "invalid client_id")
	}
	if req.GrantType != "authorization_code" {
		return nil, oauthErr(
			errUnsupportedGrantType, "only authorization_code is supported",
		)
	}
	for name, values := range form {
		if _, ok := reservedTokenParams[name]; ok {
			continue
		}
		req.Extra[name] = values
	}
	return req, nil
}

// parseAuthorizationRequest validates the parameters of an authorization
// request. Redirect resolution is left to the grant engine: the error
// channel depends on whether the client is known.
func parseAuthorizationRequest(query url.Values) (*authorizationRequest, *oauthError) {
	req := &authorizationRequest{
		ResponseType: query.Get("response_type"),
		ClientID:     query.Get("client_id"),
		RedirectURI:  query.Get("redirect_uri"),
		State:        query.Get("state"),
	}
	if req.ResponseType == "" {
		return nil, oauthErr(errInvalidRequest, "response_type missing")
	}
	if req.ClientID == "" {
		return nil, oauthErr(errInvalidRequest, "client_id missing")
	}
	if !validClientID(req.ClientID) {
		return nil, oauthErr(errInvalidRequest, "invalid client_id")
	}
	if scope := query.Get("scope"); scope != "" {
		req.Scopes = strings.Split(scope, " ")
	}
	return req, nil
}
