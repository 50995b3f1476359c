package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-voice/pkg/core"
	"github.com/vango-go/vai-voice/pkg/gateway/auth"
	"github.com/vango-go/vai-voice/pkg/gateway/ratelimit"
)

// RateLimit applies per-principal limits. A live upgrade or SSE stream holds
// a stream permit until its handler returns, so the cap counts open streams.
func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isHealthPath(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		principal := auth.KeyFrom(r.Context())
		var dec ratelimit.Decision
		if isStream(r) {
			dec = limiter.AcquireStream(principal, time.Now())
		} else {
			dec = limiter.AcquireRequest(principal, time.Now())
		}
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			writeJSONError(w, http.StatusTooManyRequests, &core.Error{
				Code:      core.CodeRateLimited,
				Class:     core.ClassTransient,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			})
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
