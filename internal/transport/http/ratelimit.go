package http

import "time"

// rateLimiter admits up to limit messages per window. It is owned by a single
// read loop and is not safe for concurrent use.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	start   time.Time
	counter int
}

func newRateLimiter(limit int) *rateLimiter {
	if limit <= 0 {
		return nil
	}
	return &rateLimiter{
		limit:  limit,
		window: time.Minute,
		now:    time.Now,
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil {
		return true
	}
	now := r.now()
	if now.Sub(r.start) >= r.window {
		r.start = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
