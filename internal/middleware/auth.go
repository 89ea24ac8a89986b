package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
)

// APIKeyAuth guards the ingest endpoints with a shared secret carried
// in the x-api-key header. An empty configured secret disables the
// check (local development).
type APIKeyAuth struct {
	secret string
	logger *log.Logger
}

func NewAPIKeyAuth(secret string) *APIKeyAuth {
	a := &APIKeyAuth{
		secret: secret,
		logger: log.New(log.Writer(), "[AUTH] ", log.LstdFlags),
	}
	if secret == "" {
		a.logger.Printf("⚠️ No API secret configured — authentication disabled")
	}
	return a
}

// Middleware rejects requests without the correct key.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.secret != "" {
			key := r.Header.Get("x-api-key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(a.secret)) != 1 {
				a.logger.Printf("🚫 Rejected request to %s: bad or missing API key", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid or missing API key"}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
