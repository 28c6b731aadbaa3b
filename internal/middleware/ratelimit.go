package middleware

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/mindfriend/backend/pkg/utils"
)

// RateLimiter caps the request rate across all clients.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows reqPerSec sustained with bursts of burst. It returns
// nil when reqPerSec is not positive; a nil limiter lets everything through.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	if reqPerSec <= 0 {
		return nil
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(reqPerSec), burst)}
}

// Handler rejects requests over the limit with 429.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl != nil && !rl.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			utils.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
