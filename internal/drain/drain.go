// Package drain implements the bounded "take in a loop" discipline spec.md
// §4.3 requires of subscription and service handlers: drain the underlying
// channel until it's empty, but break out after a small time budget so one
// busy handle can't starve the rest of a Selector's wait-set.
//
// The Config shape is grounded on microbatch.BatcherConfig: a zero value
// gets sane defaults, and fields are independently disable-able by setting
// them negative.
package drain

import "time"

// Config controls a single bounded drain loop.
type Config struct {
	// Budget is the maximum wall-clock time a single Loop call may spend
	// taking items before returning, regardless of how much more is
	// available. Defaults to 1ms, per spec.md §4.3. A negative value
	// disables the time budget entirely (drain until empty or error).
	Budget time.Duration
}

func (c Config) budget() time.Duration {
	switch {
	case c.Budget > 0:
		return c.Budget
	case c.Budget < 0:
		return 0
	default:
		return time.Millisecond
	}
}

// Take attempts to consume and process one item, reporting ok=false when
// nothing was currently available.
type Take func() (ok bool, err error)

// Loop calls take repeatedly until it reports ok=false, returns an error, or
// the configured budget elapses. It returns the number of items
// successfully taken and the first error encountered, if any.
func Loop(cfg Config, take Take) (count int, err error) {
	budget := cfg.budget()
	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}
	for {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return count, nil
		}
		ok, e := take()
		if e != nil {
			return count, e
		}
		if !ok {
			return count, nil
		}
		count++
	}
}
