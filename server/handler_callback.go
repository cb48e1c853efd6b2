package server

import (
	"log"
	"net/http"
	"net/url"
)

// loginRedirect parks the authorization request in transient storage and
// sends the user agent to the login service.
func (h *handler) loginRedirect(w http.ResponseWriter, req *authorizationRequest) {
	key := generateToken()
	state := &authorizationState{
		ClientID:     req.ClientID,
		RedirectURI:  req.RedirectURI,
		ResponseType: req.ResponseType,
		Scopes:       req.Scopes,
		State:        req.State,
	}
	if err := h.stateStore.persist(key, state); err != nil {
		log.Printf("ERROR: persisting authorization state: %s\n", err)
		h.errorJSONResponse(w, oauthErr(errServerError, "could not persist authorization state"))
		return
	}
	callback := h.callbackURL
	query := callback.Query()
	query.Set("token", key)
	callback.RawQuery = query.Encode()
	login, err := h.authn.AuthnRedirect(&callback)
	if err != nil {
		log.Printf("ERROR: building login redirect: %s\n", err)
		h.errorJSONResponse(w, oauthErr(errServerError, "login redirect unavailable"))
		return
	}
	w.Header().Set("Location", login.String())
	w.WriteHeader(http.StatusFound)
}

// serveLoginCallback resumes a parked authorization request after login.
func (h *handler) serveLoginCallback(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("token")
	if key == "" {
		h.errorJSONResponse(w, oauthErr(errInvalidRequest, "token missing"))
		return
	}
	var state authorizationState
	if err := h.stateStore.restore(key, &state); err != nil {
		log.Printf("ERROR: restoring authorization state: %s\n", err)
		h.errorJSONResponse(w, oauthErr(errInvalidRequest, "invalid state token"))
		return
	}
	subject, err := h.authn.User(r)
	if err != nil {
		log.Printf("ERROR: authenticating user: %s\n", err)
		redirectURI, uerr := url.Parse(state.RedirectURI)
		if state.RedirectURI == "" || uerr != nil {
			h.errorJSONResponse(w, oauthErr(errAccessDenied, "could not authenticate user"))
			return
		}
		h.errorRedirect(w, redirectURI, errAccessDenied, state.State)
		return
	}
	req := &authorizationRequest{
		ResponseType: state.ResponseType,
		ClientID:     state.ClientID,
		RedirectURI:  state.RedirectURI,
		Scopes:       state.Scopes,
		State:        state.State,
	}
	h.authorize(w, req, subject)
}
