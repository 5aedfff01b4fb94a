package timerlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertOrdersByAbsoluteFireTime(t *testing.T) {
	d := New()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	idA := d.NextID()
	idB := d.NextID()
	idC := d.NextID()

	d.Insert(now, 30*time.Millisecond, TimerEntry{ID: idA})
	d.Insert(now, 10*time.Millisecond, TimerEntry{ID: idB})
	d.Insert(now, 20*time.Millisecond, TimerEntry{ID: idC})

	require.Equal(t, 3, d.Len())
	assert.Equal(t, idB, d.Front().ID)

	var order []TimerID
	var lastAbs time.Time
	for !d.IsEmpty() {
		abs := d.FrontAbsolute()
		if !lastAbs.IsZero() {
			assert.True(t, !abs.Before(lastAbs), "monotonicity violated: invariant 1")
		}
		lastAbs = abs
		order = append(order, d.Pop().ID)
	}
	assert.Equal(t, []TimerID{idB, idC, idA}, order)
}

func TestInsertRemoveRoundTrip(t *testing.T) {
	// invariant 8: adding then removing a timer by id leaves the list
	// identical to before the add.
	d := New()
	now := time.Now()

	base := d.NextID()
	d.Insert(now, 5*time.Millisecond, TimerEntry{ID: base})

	before := snapshotAbs(d)

	extra := d.NextID()
	d.Insert(now, 1*time.Millisecond, TimerEntry{ID: extra})
	d.Remove(extra)

	after := snapshotAbs(d)
	assert.Equal(t, before, after)
}

func snapshotAbs(d *DeltaTimerList) []time.Time {
	// non-destructive snapshot: walk the list, accumulating absolute fire times
	var out []time.Time
	acc := d.baseTime
	for e := d.entries.Front(); e != nil; e = e.Next() {
		te := e.Value.(*TimerEntry)
		acc = acc.Add(te.Delta)
		out = append(out, acc)
	}
	return out
}

func TestClockSkewBackwardJumpPreservesFireOrder(t *testing.T) {
	// invariant 12: a backward clock jump preserves the sequence of fire
	// times - every subsequent fire happens at the same or later wall-clock
	// instant it would have without the jump.
	d := New()
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)

	id := d.NextID()
	d.Insert(now, 50*time.Millisecond, TimerEntry{ID: id})
	wantAbs := d.FrontAbsolute()

	// system clock jumps backward by one second
	skewed := now.Add(-1 * time.Second)
	another := d.NextID()
	d.Insert(skewed, 5*time.Millisecond, TimerEntry{ID: another})

	gotAbs := d.FrontAbsolute()
	// the entry that was scheduled for id must still fire no earlier than
	// wantAbs once expressed against the new base.
	found := false
	acc := d.baseTime
	for e := d.entries.Front(); e != nil; e = e.Next() {
		te := e.Value.(*TimerEntry)
		acc = acc.Add(te.Delta)
		if te.ID == id {
			assert.True(t, !acc.Before(wantAbs))
			found = true
		}
	}
	require.True(t, found)
	_ = gotAbs
}

func TestReloadWallCompensatesForHandlerDuration(t *testing.T) {
	period := 10 * time.Millisecond
	fireTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	handlerDuration := 3 * time.Millisecond

	next := ReloadWall(fireTime.Add(handlerDuration), fireTime, period)
	assert.Equal(t, period-handlerDuration, next)
}

func TestReloadWallClampsToZeroWhenOverrun(t *testing.T) {
	period := 10 * time.Millisecond
	fireTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	overrun := 15 * time.Millisecond

	next := ReloadWall(fireTime.Add(overrun), fireTime, period)
	assert.Equal(t, time.Duration(0), next)
}

func TestFilterRemovesEntriesPreservingAbsoluteTimes(t *testing.T) {
	d := New()
	now := time.Now()

	idA := d.NextID()
	idB := d.NextID()
	idC := d.NextID()
	d.Insert(now, 10*time.Millisecond, TimerEntry{ID: idA})
	d.Insert(now, 20*time.Millisecond, TimerEntry{ID: idB})
	d.Insert(now, 30*time.Millisecond, TimerEntry{ID: idC})

	wantAbsC := now.Add(30 * time.Millisecond)

	d.Filter(func(te *TimerEntry) bool { return te.ID != idB })

	require.Equal(t, 2, d.Len())
	assert.Equal(t, idA, d.Front().ID)

	acc := d.baseTime
	var lastAbsC time.Time
	for e := d.entries.Front(); e != nil; e = e.Next() {
		te := e.Value.(*TimerEntry)
		acc = acc.Add(te.Delta)
		if te.ID == idC {
			lastAbsC = acc
		}
	}
	assert.WithinDuration(t, wantAbsC, lastAbsC, time.Microsecond)
}
