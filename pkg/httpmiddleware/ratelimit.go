package httpmiddleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client fixed window rate limiter.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

type window struct {
	start time.Time
	count int
}

// RateLimit limits each client IP to cfg.Max requests per cfg.Window.
// Windows are fixed, not sliding; the limiter exists to stop abusive bursts,
// not to bill by request.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		clients = make(map[string]*window)
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			now := time.Now()

			mu.Lock()
			win, ok := clients[key]
			if !ok || now.Sub(win.start) >= cfg.Window {
				// Recycle stale entries opportunistically on rollover.
				if len(clients) > 10000 {
					for k, v := range clients {
						if now.Sub(v.start) >= cfg.Window {
							delete(clients, k)
						}
					}
				}
				win = &window{start: now}
				clients[key] = win
			}
			win.count++
			exceeded := win.count > cfg.Max
			mu.Unlock()

			if exceeded {
				w.Header().Set("Retry-After", cfg.Window.String())
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
