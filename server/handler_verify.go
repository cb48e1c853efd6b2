package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

// serveVerificationRequest resolves a presented bearer token for a resource
// server.
func (h *handler) serveVerificationRequest(w http.ResponseWriter, r *http.Request) {
	value := bearerToken(r)
	if value == "" {
		h.errorJSONResponse(w, oauthErr(errUnauthorized, "Unauthorized"))
		return
	}
	matches, err := h.tokens.Find(TokenFilter{
		Value: value, Type: AccessToken, Valid: true,
	})
	if err != nil {
		log.Printf("ERROR: token lookup: %s\n", err)
		h.errorJSONResponse(w, oauthErr(errServerError, "token lookup failed"))
		return
	}
	now := time.Now()
	if len(matches) != 1 || matches[0].Expired(now) {
		h.errorJSONResponse(w, oauthErr(errUnauthorized, "Unauthorized"))
		return
	}
	token := matches[0]
	// Usage tracking, not consumption: the token stays reusable.
	token.LastAccess = &now
	if err := h.tokens.Save(token); err != nil {
		log.Printf("ERROR: updating last access: %s\n", err)
		h.errorJSONResponse(w, oauthErr(errServerError, "could not update token"))
		return
	}
	body, err := json.Marshal(token)
	if err != nil {
		log.Printf("ERROR: encoding token: %s\n", err)
		h.errorJSONResponse(w, oauthErr(errServerError, "could not encode token"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// bearerToken extracts the bearer token from the Authorization header: the
// scheme literal Bearer and the token, space separated. A missing or
// malformed header falls back to the access_token query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.Split(auth, " ")
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1]
		}
	}
	return r.URL.Query().Get("access_token")
}
