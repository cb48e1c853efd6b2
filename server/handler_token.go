package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"
)

// serveTokenRequest handles the authorization code exchange.
func (h *handler) serveTokenRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.errorJSONResponse(w, oauthErr(errInvalidRequest, "unable to parse request body"))
		return
	}
	req, oerr := parseTokenRequest(r.Form)
	if oerr != nil {
		h.errorJSONResponse(w, oerr)
		return
	}
	client, err := h.clients.Get(req.ClientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			h.errorJSONResponse(w, oauthErr(errInvalidClient, "unknown client"))
		} else {
			log.Printf("ERROR: client lookup: %s\n", err)
			h.errorJSONResponse(w, oauthErr(errServerError, "client lookup failed"))
		}
		return
	}
	if req.RedirectURI != client.RedirectURI {
		h.errorJSONResponse(w, oauthErr(errInvalidGrant, "redirect_uri mismatch"))
		return
	}
	matches, err := h.tokens.Find(TokenFilter{
		Value: req.Code, Type: AuthorizationCode, Valid: true,
	})
	if err != nil {
		log.Printf("ERROR: code lookup: %s\n", err)
		h.errorJSONResponse(w, oauthErr(errServerError, "token lookup failed"))
		return
	}
	if len(matches) != 1 {
		h.errorJSONResponse(w, oauthErr(errInvalidGrant, "Authorization code not found"))
		return
	}
	code := matches[0]
	now := time.Now()
	if code.Expired(now) || code.Consumed() {
		h.errorJSONResponse(w, oauthErr(errInvalidGrant, "Authorization code expired"))
		return
	}
	// The check above is advisory: concurrent exchanges of the same code are
	// settled by the store, which marks the code consumed only if it still
	// is unconsumed.
	code, err = h.tokens.Consume(req.Code, now)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeConsumed), errors.Is(err, ErrTokenNotFound):
			h.errorJSONResponse(w, oauthErr(errInvalidGrant, "Authorization code expired"))
		default:
			log.Printf("ERROR: consuming code: %s\n", err)
			h.errorJSONResponse(w, oauthErr(errServerError, "could not consume authorization code"))
		}
		return
	}
	access, err := h.createToken(AccessToken, code.UserID, code.ClientID, code.Scopes, now)
	if err != nil {
		log.Printf("ERROR: creating access token: %s\n", err)
		// Give the code back, so that a retry of the exchange can still
		// produce a usable token.
		code.LastAccess = nil
		if err := h.tokens.Save(code); err != nil {
			log.Printf("ERROR: rolling back code consumption: %s\n", err)
		}
		h.errorJSONResponse(w, oauthErr(errServerError, "could not create access token"))
		return
	}
	tokensIssued.WithLabelValues("authorization_code").Inc()
	response := make(map[string]interface{})
	for name, values := range req.Extra {
		response[name] = values[0]
	}
	response["access_token"] = access.Value
	response["token_type"] = "bearer"
	response["expires_in"] = h.lifetimeSeconds()
	body, err := json.Marshal(response)
	if err != nil {
		log.Printf("ERROR: encoding token response: %s\n", err)
		h.errorJSONResponse(w, oauthErr(errServerError, "could not encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
