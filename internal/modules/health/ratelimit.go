package health

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// клиентов больше этого числа: перед добавлением нового выкидываем простаивающих
const maxTrackedClients = 4096

// RateLimiter ограничивает запросы с одного адреса: perMinute в минуту,
// всплеск до perMinute подряд.
type RateLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	now     func() time.Time
	clients map[string]*rate.Limiter
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return newRateLimiter(perMinute, time.Now)
}

func newRateLimiter(perMinute int, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		every:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		now:     now,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) Allow(client string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			l.sweep(now)
		}
		lim = rate.NewLimiter(l.every, l.burst)
		l.clients[client] = lim
	}
	return lim.AllowN(now, 1)
}

// sweep вызывается под mu. Полный бакет значит, что клиент давно молчит.
func (l *RateLimiter) sweep(now time.Time) {
	for k, lim := range l.clients {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.clients, k)
		}
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientAddr(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too Many Requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
