package offline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// rateLimitedLogger lets at most one event through per interval.
type rateLimitedLogger struct {
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
}

func newRateLimitedLogger(interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{interval: interval}
}

// Event returns ev, or nil when the previous event was too recent. zerolog
// treats a nil event as disabled, so callers can chain on the result.
func (l *rateLimitedLogger) Event(ev *zerolog.Event) *zerolog.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		return nil
	}
	l.lastAt = now
	return ev
}
