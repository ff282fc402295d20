package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ignite/messaging/internal/auth"
	"github.com/ignite/messaging/internal/pkg/httputil"
)

// Throttle keeps one token bucket per authenticated caller. It guards the
// API surface as a whole; the per-sender send interval is enforced by the
// rate limiter service.
type Throttle struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func NewThrottle(rps float64, burst int) *Throttle {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	return &Throttle{m: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (t *Throttle) get(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(t.rps, t.burst)
	t.m[key] = l
	return l
}

// Allow reports whether key may make a request now.
func (t *Throttle) Allow(key string) bool {
	return t.get(key).Allow()
}

// Middleware must run after auth.Middleware. Requests without a principal
// are keyed by remote address.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			key = p.Email
		}
		if !t.Allow(key) {
			wait := time.Duration(float64(time.Second) / float64(t.rps))
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			httputil.Error(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
