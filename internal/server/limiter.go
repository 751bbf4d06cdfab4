package server

import (
	"net"
	"net/http"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/syncx"
)

// connLimiter caps concurrent streams per client IP. A max of 0 or less
// disables the limit.
type connLimiter struct {
	max   int
	conns *syncx.RWGuard[map[string]int]
}

func newConnLimiter(limit int) *connLimiter {
	return &connLimiter{max: limit, conns: syncx.NewGuard(make(map[string]int))}
}

// acquire reserves a slot for ip.
func (l *connLimiter) acquire(ip string) bool {
	if l.max <= 0 {
		return true
	}
	return syncx.Update(l.conns, func(m *map[string]int) bool {
		if (*m)[ip] >= l.max {
			return false
		}
		(*m)[ip]++
		return true
	})
}

// release frees a slot reserved by acquire.
func (l *connLimiter) release(ip string) {
	if l.max <= 0 {
		return
	}
	l.conns.Write(func(m *map[string]int) {
		if (*m)[ip] <= 1 {
			delete(*m, ip)
			return
		}
		(*m)[ip]--
	})
}

// active returns the number of open streams for ip.
func (l *connLimiter) active(ip string) int {
	return syncx.View(l.conns, func(m map[string]int) int { return m[ip] })
}

// limit wraps next so each IP holds at most l.max requests at once.
func (l *connLimiter) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.acquire(ip) {
			http.Error(w, ConnLimitMessage, http.StatusTooManyRequests)
			return
		}
		defer l.release(ip)
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
