package dispatch

import "time"

const (
	DefaultInterval = 60 * time.Minute
	DefaultBuffer   = 5 * time.Minute
)

// Window is the half-open publication range [Since, Until) searched by one tick.
type Window struct {
	Since time.Time
	Until time.Time
}

// WindowFor looks back one interval plus buffer from now. Consecutive ticks
// overlap by buffer, which covers indexing lag and scheduler jitter; the
// ledger removes the duplicates the overlap produces.
func WindowFor(now time.Time, interval, buffer time.Duration) Window {
	if interval < 0 {
		interval = 0
	}
	if buffer < 0 {
		buffer = 0
	}
	now = now.UTC()
	return Window{Since: now.Add(-(interval + buffer)), Until: now}
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}

func (w Window) Duration() time.Duration { return w.Until.Sub(w.Since) }
