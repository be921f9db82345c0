package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// adminTokenHeader is accepted alongside "Authorization: Bearer <token>".
const adminTokenHeader = "X-Admin-Token"

// AdminAuth guards mutating routes with a shared bearer token.
// Only a digest of the token is kept in memory.
type AdminAuth struct {
	digest  [sha256.Size]byte
	enabled bool
}

// NewAdminAuth returns a guard for token. An empty token disables the check.
func NewAdminAuth(token string) *AdminAuth {
	if token == "" {
		return &AdminAuth{}
	}
	return &AdminAuth{digest: sha256.Sum256([]byte(token)), enabled: true}
}

// Enabled reports whether a token is required.
func (a *AdminAuth) Enabled() bool {
	return a != nil && a.enabled
}

// Authorized checks the request's token in constant time.
func (a *AdminAuth) Authorized(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	token := r.Header.Get(adminTokenHeader)
	if token == "" {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			token = auth[len(prefix):]
		}
	}
	if token == "" {
		return false
	}
	got := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(got[:], a.digest[:]) == 1
}

// Middleware rejects unauthorized requests with 401.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorized(r) {
			RecordConnectionRejected("unauthorized")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="autobattle"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "unauthorized",
				"message": "Admin token required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
