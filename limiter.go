package seocontrol

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// LoginLimiter rate-limits failed admin logins per client IP. Failures are
// counted in a fixed window that opens with the first failure.
type LoginLimiter struct {
	mu       sync.Mutex
	failures *cache.Cache
	max      int
	window   time.Duration
}

// NewLoginLimiter allows max failures per window and IP.
func NewLoginLimiter(max int, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		failures: cache.New(window, 2*window),
		max:      max,
		window:   window,
	}
}

// Check reports whether ip is below the limit without counting an attempt.
func (l *LoginLimiter) Check(ip string) bool {
	n, found := l.failures.Get(ip)
	return !found || n.(int) < l.max
}

// Record counts a failed login for ip.
func (l *LoginLimiter) Record(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.failures.IncrementInt(ip, 1); err != nil {
		l.failures.Set(ip, 1, l.window)
	}
}

// Reset forgets the failures of ip, e.g. after a successful login.
func (l *LoginLimiter) Reset(ip string) {
	l.failures.Delete(ip)
}
