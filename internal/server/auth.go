// Package server implements the HTTP ingress of the mail composer.
package server

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Authenticator verifies HTTP Basic credentials against configured ones.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
// If both username and password are empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Verify compares credentials in constant time.
func (a *Authenticator) Verify(user, pass string) error {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.password)) == 1
	if !userOK || !passOK {
		return fmt.Errorf("authentication failed")
	}
	return nil
}

// VerifyBasic decodes and verifies an Authorization header value.
// Format: "Basic " + base64(username:password)
func (a *Authenticator) VerifyBasic(header string) error {
	scheme, encoded, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return fmt.Errorf("unsupported authorization scheme")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("invalid base64 encoding")
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return fmt.Errorf("invalid basic credentials format")
	}

	return a.Verify(user, pass)
}

// Middleware rejects requests without valid credentials when
// authentication is enabled.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.VerifyBasic(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="mail-composer", charset="UTF-8"`)
			writeProblem(w, r, http.StatusUnauthorized, "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
