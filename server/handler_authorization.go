package server

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// serveAuthorizationRequest handles an initial authorization request.
func (h *handler) serveAuthorizationRequest(w http.ResponseWriter, r *http.Request) {
	req, oerr := parseAuthorizationRequest(r.URL.Query())
	if oerr != nil {
		h.errorJSONResponse(w, oerr)
		return
	}
	subject, ok := h.authn.Subject(r)
	if !ok && req.ResponseType == "token" {
		// Not a failure: park the request and come back after login.
		h.loginRedirect(w, req)
		return
	}
	h.authorize(w, req, subject)
}

// authorize validates the client and issues the implicit-grant token for an
// authorization request with an authenticated resource owner.
func (h *handler) authorize(w http.ResponseWriter, req *authorizationRequest, subject string) {
	client, err := h.clients.Get(req.ClientID)
	if err != nil {
		if !errors.Is(err, ErrClientNotFound) {
			log.Printf("ERROR: client lookup: %s\n", err)
			h.errorJSONResponse(w, oauthErr(errServerError, "client lookup failed"))
			return
		}
		// Without a known client there is no redirect to report errors on,
		// so the error surface depends on the requested response type.
		if req.ResponseType != "token" {
			h.errorJSONResponse(w, oauthErr(errUnsupportedResponseType, "unknown client"))
		} else {
			h.errorJSONResponse(w, oauthErr(errAccessDenied, "unknown client"))
		}
		return
	}
	redirectURI, oerr := resolveRedirectURI(client, req.RedirectURI)
	if oerr != nil {
		h.errorJSONResponse(w, oerr)
		return
	}
	if req.ResponseType != "token" {
		// The client-facing error channel for this flow is the redirect.
		h.errorRedirect(w, redirectURI, errUnsupportedResponseType, req.State)
		return
	}
	now := time.Now()
	access, err := h.createToken(AccessToken, subject, client.ID, req.Scopes, now)
	if err != nil {
		log.Printf("ERROR: creating access token: %s\n", err)
		h.errorRedirect(w, redirectURI, errServerError, req.State)
		return
	}
	tokensIssued.WithLabelValues("implicit").Inc()
	h.implicitResponse(w, redirectURI, access.Value, req.State)
}

// resolveRedirectURI determines the effective redirect target for an
// authorization request. The request value must match the registered one
// when both are present.
func resolveRedirectURI(client *Client, requested string) (*url.URL, *oauthError) {
	target := client.RedirectURI
	switch {
	case requested == "" && target == "":
		return nil, oauthErr(errInvalidRequest, "redirect_uri missing")
	case requested == "":
		// registered value only
	case target == "":
		target = requested
	case requested != target:
		return nil, oauthErr(errAccessDenied, "redirect_uri mismatch")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, oauthErr(errInvalidRequest, "redirect_uri invalid")
	}
	return u, nil
}

// errorRedirect reports an error on the client's redirect channel.
func (h *handler) errorRedirect(
	w http.ResponseWriter, redirectURI *url.URL, code string, state string,
) {
	u := *redirectURI
	query := u.Query()
	query.Set("error", code)
	if state != "" {
		query.Set("state", state)
	}
	u.RawQuery = query.Encode()
	w.Header().Set("Location", u.String())
	w.WriteHeader(http.StatusFound)
}

// implicitResponse redirects the user agent back to the client with the
// issued token in the query string.
func (h *handler) implicitResponse(
	w http.ResponseWriter, redirectURI *url.URL, accessToken string, state string,
) {
	u := *redirectURI
	query := u.Query()
	query.Set("access_token", accessToken)
	query.Set("token_type", "bearer")
	query.Set("expires_in", strconv.Itoa(h.lifetimeSeconds()))
	if state != "" {
		query.Set("state", state)
	}
	u.RawQuery = query.Encode()
	w.Header().Set("Location", u.String())
	w.WriteHeader(http.StatusFound)
}
