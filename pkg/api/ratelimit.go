package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Stale per-client entries are pruned lazily on access.
const clientEntryTTL = 10 * time.Minute

type clientEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// rateLimitMiddleware limits requests per client IP on the wrapped
// routes. Each IP gets a token bucket refilled at the configured
// per-minute rate, with burst up to one minute's worth.
func (s *server) rateLimitMiddleware(
	requestsPerMinute int,
) func(http.Handler) http.Handler {
	var (
		mu        sync.Mutex
		clients   = make(map[string]*clientEntry)
		lastPrune = time.Now()
	)

	limit := rate.Limit(float64(requestsPerMinute) / 60.0)

	allow := func(ip string) bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()

		if now.Sub(lastPrune) > clientEntryTTL {
			for key, entry := range clients {
				if now.Sub(entry.seen) > clientEntryTTL {
					delete(clients, key)
				}
			}

			lastPrune = now
		}

		entry, ok := clients[ip]
		if !ok {
			entry = &clientEntry{
				limiter: rate.NewLimiter(limit, requestsPerMinute),
			}
			clients[ip] = entry
		}

		entry.seen = now

		return entry.limiter.Allow()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			if !allow(ip) {
				writeJSON(w, http.StatusTooManyRequests,
					errorResponse{"rate limit exceeded"})

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
