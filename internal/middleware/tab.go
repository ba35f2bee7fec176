package middleware

import (
	"context"
	"net/http"
	"regexp"
)

// TabHeader carries the id of the calling execution context.
const TabHeader = "X-Tab-ID"

var tabIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// TabID requires a well-formed X-Tab-ID header and stores it in the request
// context for GetTabIDFromContext.
func TabID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TabHeader)
		if !tabIDPattern.MatchString(id) {
			writeError(w, "missing or malformed "+TabHeader+" header", http.StatusBadRequest)
			return
		}
		ctx := context.WithValue(r.Context(), tabKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTabIDFromContext returns the tab id stored by TabID, or "".
func GetTabIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(tabKey).(string); ok {
		return s
	}
	return ""
}

// WithTabID returns a copy of ctx carrying tabID, as TabID would.
func WithTabID(ctx context.Context, tabID string) context.Context {
	return context.WithValue(ctx, tabKey, tabID)
}
