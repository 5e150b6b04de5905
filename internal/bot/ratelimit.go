package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a user may issue another command.
type Limiter interface {
	Allow(userID int64) bool
}

// InMemoryLimiter keeps one token bucket per user.
type InMemoryLimiter struct {
	users map[int64]*rate.Limiter
	mu    sync.Mutex
	r     rate.Limit
	b     int
}

// NewInMemoryLimiter allows requests per interval with the given burst, e.g.
// NewInMemoryLimiter(1, 3*time.Second, 5).
func NewInMemoryLimiter(requests int, per time.Duration, burst int) *InMemoryLimiter {
	return &InMemoryLimiter{
		users: make(map[int64]*rate.Limiter),
		r:     rate.Every(per / time.Duration(requests)),
		b:     burst,
	}
}

func (l *InMemoryLimiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.users[userID]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.users[userID] = limiter
	}
	return limiter.Allow()
}
