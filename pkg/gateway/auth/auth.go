package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Anonymous keys callers without credentials in optional/disabled auth mode.
const Anonymous = "anonymous"

type Principal struct {
	APIKey string
}

// Key is a stable, non-reversible identifier for the principal, safe to log
// and to use as a map key.
func (p *Principal) Key() string {
	if p == nil || p.APIKey == "" {
		return Anonymous
	}
	sum := sha256.Sum256([]byte(p.APIKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// KeyFrom returns the principal key for ctx, or Anonymous.
func KeyFrom(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.Key()
}

// ParseBearer reads the Authorization header. Browser WebSocket clients
// cannot set headers, so upgrade requests to /v1/live may pass the key as
// ?access_token= instead.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		if isUpgrade(r) {
			if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
				return token, true
			}
		}
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func isUpgrade(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
