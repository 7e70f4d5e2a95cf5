package governor

import "time"

// RateWindow is a fixed admission window for one caller.
type RateWindow struct {
	WindowStart time.Time
	Count       int
	Limit       int
	Period      time.Duration
}

// admit counts one request against the window, rolling it over when the
// period has elapsed. When the cap is reached it returns false and the time
// until the window resets.
func (w *RateWindow) admit(now time.Time) (bool, time.Duration) {
	if w.WindowStart.IsZero() || !now.Before(w.WindowStart.Add(w.Period)) {
		w.WindowStart = now
		w.Count = 0
	}
	if w.Count >= w.Limit {
		return false, w.WindowStart.Add(w.Period).Sub(now)
	}
	w.Count++
	return true, 0
}

func (w *RateWindow) expired(now time.Time) bool {
	return !now.Before(w.WindowStart.Add(w.Period))
}
