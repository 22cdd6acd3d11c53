package core

import "time"

// Reschedule is the decision for a reminder whose dispatch just succeeded.
type Reschedule struct {
	RepeatCount int       // count after this send
	Repeat      bool      // re-enter pending vs complete
	NextDue     time.Time // set only when Repeat
}

// NextOccurrence applies the repeat policy after a successful send.
// repeatCount is the pre-send counter; the returned count is incremented.
// A reminder repeats while it has an interval and headroom under MaxRepeats;
// otherwise it completes and never sends again.
func NextOccurrence(intervalMinutes, repeatCount, maxRepeats int, now time.Time) Reschedule {
	next := Reschedule{RepeatCount: repeatCount + 1}
	if intervalMinutes > 0 && next.RepeatCount < maxRepeats {
		next.Repeat = true
		next.NextDue = now.Add(time.Duration(intervalMinutes) * time.Minute)
	}
	return next
}
