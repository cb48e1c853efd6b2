package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes per RFC 6749 §5.2, plus the local code used by /verify.
const (
	errInvalidRequest          = "invalid_request"
	errInvalidClient           = "invalid_client"
	errInvalidGrant            = "invalid_grant"
	errUnsupportedGrantType    = "unsupported_grant_type"
	errUnsupportedResponseType = "unsupported_response_type"
	errAccessDenied            = "access_denied"
	errUnauthorized            = "401"
	errServerError             = "server_error"
)

var errStatus = map[string]int{
	errInvalidRequest:          http.StatusBadRequest,
	errInvalidClient:           http.StatusUnauthorized,
	errInvalidGrant:            http.StatusBadRequest,
	errUnsupportedGrantType:    http.StatusBadRequest,
	errUnsupportedResponseType: http.StatusBadRequest,
	errAccessDenied:            http.StatusUnauthorized,
	errUnauthorized:            http.StatusUnauthorized,
	errServerError:             http.StatusInternalServerError,
}

// An oauthError is a protocol-level failure in the RFC 6749 error vocabulary.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *oauthError) Error() string {
	return fmt.Sprintf("OAuth 2.0 error: %s - %s", e.Code, e.Description)
}

func oauthErr(code string, description string) *oauthError {
	return &oauthError{code, description}
}

// mapError translates a protocol error into its transport-level response. It
// is a pure function of its arguments: HTTP status, headers and JSON body.
func mapError(realm string, e *oauthError) (int, http.Header, []byte) {
	status, ok := errStatus[e.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("WWW-Authenticate", fmt.Sprintf(
		"Bearer realm=%q, error=%q, error_description=%q",
		realm, e.Code, e.Description,
	))
	body, err := json.Marshal(e)
	if err != nil {
		body = []byte(`{"error":"server_error"}`)
	}
	return status, header, body
}

// errorJSONResponse writes e on the JSON error channel.
func (h *handler) errorJSONResponse(w http.ResponseWriter, e *oauthError) {
	status, header, body := mapError(h.realm, e)
	for name, values := range header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(status)
	w.Write(body)
}
