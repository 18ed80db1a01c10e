// Package auth guards the coordinator's request/response endpoints with a
// shared API key and gates room entry behind an optional room password.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// APIKeyVerifier checks a caller-supplied secret against the configured
// static value in constant time.
type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) error {
	if apiKey == "" || v.Expected == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyRequest checks the Authorization header of an API request. The
// header carries the shared secret directly, with no scheme prefix.
func (v APIKeyVerifier) VerifyRequest(r *http.Request) error {
	return v.Verify(r.Header.Get("Authorization"))
}
