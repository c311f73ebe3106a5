package identity

import (
	"log/slog"
	"net/http"
)

// Middleware requires a valid session token and injects the user key and the
// per-tab session ID into the request context.
func Middleware(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userKey, err := tokens.Parse(tokenFromRequest(r))
			if err != nil {
				slog.Debug("Rejected unauthenticated request", "path", r.URL.Path, "ip", IPFromRequest(r), "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated","code":"unauthenticated"}` + "\n"))
				return
			}

			ctx := WithUserKey(r.Context(), userKey)
			ctx = withSessionID(ctx, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
