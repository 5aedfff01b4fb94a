// Package timerlist implements DeltaTimerList: a time-ordered list of
// pending timers keyed by a monotone base time plus per-entry deltas
// (spec.md §3, §4.2).
//
// Invariants (spec.md §3):
//   - all deltas are >= 0
//   - base_time + sum(deltas[0..=i]) is the absolute fire time of entry i
//   - when the list is empty, base_time is undefined
package timerlist

import (
	"container/list"
	"time"
)

// Kind distinguishes one-shot timers from reloading wall timers.
type Kind int

const (
	// OneShot fires once then is removed.
	OneShot Kind = iota
	// Wall is a named, reloading periodic timer.
	Wall
)

// Handler is invoked when a TimerEntry fires.
type Handler func()

// TimerEntry is a pending timer, per spec.md §3.
type TimerEntry struct {
	// Delta is the offset from the previous entry (or from base_time, for
	// the head entry). Always >= 0.
	Delta time.Duration
	ID    TimerID
	Kind  Kind
	// Name is only meaningful for Wall timers.
	Name string
	// Period is only meaningful for Wall timers.
	Period  time.Duration
	Handler Handler
}

// TimerID is a monotonically assigned identifier, tracked to prevent reuse
// while still referenced (spec.md §3).
type TimerID uint64

// DeltaTimerList is the contract from spec.md §4.2: insert, front/front_mut,
// pop, filter, is_empty, plus the clock-skew policy applied on insert.
//
// Not safe for concurrent use; callers (Selector) serialize access the same
// way the rest of the single-threaded core does.
type DeltaTimerList struct {
	entries  *list.List // of *TimerEntry, front() is position 0 (smallest absolute fire time)
	baseTime time.Time
	hasBase  bool
	ids      map[TimerID]struct{}
	nextID   TimerID
}

// New returns an empty DeltaTimerList.
func New() *DeltaTimerList {
	return &DeltaTimerList{
		entries: list.New(),
		ids:     make(map[TimerID]struct{}),
	}
}

// IsEmpty reports whether the list holds no entries.
func (d *DeltaTimerList) IsEmpty() bool { return d.entries.Len() == 0 }

// Len returns the number of pending entries.
func (d *DeltaTimerList) Len() int { return d.entries.Len() }

// NextID allocates a fresh TimerID, distinct from any still tracked.
func (d *DeltaTimerList) NextID() TimerID {
	for {
		d.nextID++
		id := d.nextID
		if _, taken := d.ids[id]; !taken {
			return id
		}
	}
}

// Insert places entry into the list at absolute fire time now+delay,
// applying the clock-skew policy from spec.md §4.2:
//
//   - inserting into an empty list sets base_time = now
//   - if now < base_time (the system clock moved backward), the difference
//     is added to the head entry's delta and base_time is reset to now,
//     preserving every entry's absolute fire time
func (d *DeltaTimerList) Insert(now time.Time, delay time.Duration, entry TimerEntry) {
	if delay < 0 {
		delay = 0
	}

	if d.entries.Len() == 0 {
		d.baseTime = now
		d.hasBase = true
	} else if now.Before(d.baseTime) {
		skew := d.baseTime.Sub(now)
		if head := d.entries.Front(); head != nil {
			he := head.Value.(*TimerEntry)
			he.Delta += skew
		}
		d.baseTime = now
	}

	entry.Delta = delay
	target := now.Add(delay)

	// Walk forward accumulating absolute fire times, inserting in sorted
	// order and re-deriving the delta for the entry after the insertion
	// point (the invariant: each delta is relative to its predecessor).
	acc := d.baseTime
	var inserted *list.Element
	for e := d.entries.Front(); e != nil; e = e.Next() {
		te := e.Value.(*TimerEntry)
		fireTime := acc.Add(te.Delta)
		if target.Before(fireTime) {
			newEntry := entry
			newEntry.Delta = target.Sub(acc)
			inserted = d.entries.InsertBefore(&newEntry, e)
			te.Delta = fireTime.Sub(target)
			break
		}
		acc = fireTime
	}
	if inserted == nil {
		newEntry := entry
		newEntry.Delta = target.Sub(acc)
		inserted = d.entries.PushBack(&newEntry)
	}

	id := inserted.Value.(*TimerEntry).ID
	d.ids[id] = struct{}{}
}

// Front returns the entry with the smallest absolute fire time, or nil if
// the list is empty.
func (d *DeltaTimerList) Front() *TimerEntry {
	e := d.entries.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*TimerEntry)
}

// FrontAbsolute returns the absolute fire time of the head entry. Callers
// must check IsEmpty first; base_time is undefined for an empty list.
func (d *DeltaTimerList) FrontAbsolute() time.Time {
	front := d.Front()
	if front == nil {
		return time.Time{}
	}
	return d.baseTime.Add(front.Delta)
}

// Pop removes and returns the head entry, advancing base_time to its
// absolute fire time so the remaining entries' deltas stay correct relative
// to the new base.
func (d *DeltaTimerList) Pop() *TimerEntry {
	e := d.entries.Front()
	if e == nil {
		return nil
	}
	te := e.Value.(*TimerEntry)
	d.baseTime = d.baseTime.Add(te.Delta)
	d.entries.Remove(e)
	delete(d.ids, te.ID)
	return te
}

// Filter removes entries whose payload fails pred, re-computing deltas for
// the survivors so their absolute fire times are preserved.
func (d *DeltaTimerList) Filter(pred func(*TimerEntry) bool) {
	if d.entries.Len() == 0 {
		return
	}

	type absEntry struct {
		entry *TimerEntry
		abs   time.Time
	}
	kept := make([]absEntry, 0, d.entries.Len())

	acc := d.baseTime
	for e := d.entries.Front(); e != nil; e = e.Next() {
		te := e.Value.(*TimerEntry)
		abs := acc.Add(te.Delta)
		acc = abs
		if pred(te) {
			kept = append(kept, absEntry{entry: te, abs: abs})
		} else {
			delete(d.ids, te.ID)
		}
	}

	d.entries.Init()
	prev := d.baseTime
	for _, k := range kept {
		k.entry.Delta = k.abs.Sub(prev)
		prev = k.abs
		d.entries.PushBack(k.entry)
	}
}

// Remove removes any entry with the given id, if present. It is a thin
// wrapper over Filter, matching Selector.remove_timer's contract.
func (d *DeltaTimerList) Remove(id TimerID) {
	d.Filter(func(te *TimerEntry) bool { return te.ID != id })
}

// ReloadWall computes the next delta for a wall timer that fired at absolute
// time f, observed at now: elapsed = now - f; next delta = max(period -
// elapsed, 0). This compensates for handler execution time without drift
// over many fires (spec.md §4.3).
func ReloadWall(now, f time.Time, period time.Duration) time.Duration {
	elapsed := now.Sub(f)
	next := period - elapsed
	if next < 0 {
		return 0
	}
	return next
}
