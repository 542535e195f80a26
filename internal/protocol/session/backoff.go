package session

import (
	"math/rand/v2"
	"time"
)

// Wait paces the polls made while a caller waits for a reply or a
// connection. Delays grow by Multiplier up to MaxDelay and never run past
// the deadline.
type Wait struct {
	cfg      BackoffConfig
	deadline time.Time
	delay    time.Duration
}

func NewWait(cfg BackoffConfig, deadline time.Time) *Wait {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Millisecond
	}
	return &Wait{cfg: cfg, deadline: deadline}
}

// Next returns the sleep before the next poll. ok is false once the deadline
// has passed.
func (w *Wait) Next(now time.Time) (d time.Duration, ok bool) {
	left := w.deadline.Sub(now)
	if left <= 0 {
		return 0, false
	}
	switch {
	case w.delay == 0:
		w.delay = w.cfg.InitialDelay
	case w.cfg.MaxDelay <= 0 || w.delay < w.cfg.MaxDelay:
		w.delay = time.Duration(float64(w.delay) * w.cfg.Multiplier)
	}
	if w.cfg.MaxDelay > 0 && w.delay > w.cfg.MaxDelay {
		w.delay = w.cfg.MaxDelay
	}
	d = w.delay
	if w.cfg.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	return min(d, left), true
}
