// Package middleware provides HTTP middlewares for identity, tab
// resolution and request logging.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type ctxKey string

const (
	userKey ctxKey = "user"
	tabKey  ctxKey = "tab"
)

// CertAuth is a middleware that enforces mutual TLS authentication.
//
// The Common Name of the verified client certificate is the primary
// identity of the caller. It is stored in the request context and read
// downstream with GetUserIDFromContext. Requests without a certificate, or
// with an empty Common Name, are rejected with 401.
func CertAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			writeError(w, "no client certificate provided", http.StatusUnauthorized)
			return
		}
		cn := r.TLS.PeerCertificates[0].Subject.CommonName
		if cn == "" {
			writeError(w, "client certificate has no common name", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, cn)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext extracts the user ID (Common Name from client certificate)
// from the request context. Returns an empty string if not found.
func GetUserIDFromContext(ctx context.Context) string {
	val := ctx.Value(userKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID, as CertAuth would.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
	})
}
