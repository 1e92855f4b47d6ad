package shield

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/authortools/kit"
)

// Key is an accepted client key, stored as a bcrypt hash.
type Key struct {
	Label string
	Hash  string
}

// APIKeys checks client keys against a fixed set of bcrypt hashes.
// An empty set accepts every request.
type APIKeys struct {
	keys []Key
}

// NewAPIKeys returns a checker for keys.
func NewAPIKeys(keys ...Key) *APIKeys {
	return &APIKeys{keys: keys}
}

// Enabled reports whether any key is configured.
func (a *APIKeys) Enabled() bool { return len(a.keys) > 0 }

// Verify returns the label of the key matching secret.
func (a *APIKeys) Verify(secret string) (string, bool) {
	if secret == "" {
		return "", false
	}
	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(secret)) == nil {
			return k.Label, true
		}
	}
	return "", false
}

// Credential extracts the client key: the X-API-Key header first, then an
// "apikey" query or form parameter.
func Credential(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return v
	}
	return r.FormValue("apikey")
}

// Middleware rejects requests without a valid key with a 401 JSON error and
// stores the key label in the context for logs and the audit trail.
func (a *APIKeys) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := Credential(r)
		if secret == "" {
			unauthorized(w, r.Context(), "API key is missing")
			return
		}
		label, ok := a.Verify(secret)
		if !ok {
			unauthorized(w, r.Context(), "Invalid API key")
			return
		}
		ctx := kit.WithClient(r.Context(), label)
		GetLogger(ctx).Debug("api key accepted", "client", label)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, ctx context.Context, msg string) {
	GetLogger(ctx).Info("request rejected", "reason", msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
