package sim

import (
	"testing"
	"time"
)

func Test_ClockAdvance(t *testing.T) {
	c := NewClock(50)
	if c.Period() != 20*time.Millisecond {
		t.Fatalf("period = %v", c.Period())
	}

	if n := c.Advance(time.Second); n != 0 {
		t.Error("clock ticked before Start")
	}

	now := time.Unix(100, 0)
	c.Start(now, now)

	if n := c.Advance(15 * time.Millisecond); n != 0 {
		t.Errorf("ticks = %d, want 0", n)
	}
	if n := c.Advance(10 * time.Millisecond); n != 1 {
		t.Errorf("ticks = %d, want 1", n)
	}
	if n := c.Advance(40 * time.Millisecond); n != 2 {
		t.Errorf("ticks = %d, want 2", n)
	}
}

func Test_ClockStartInPast(t *testing.T) {
	c := NewClock(10)
	start := time.Unix(100, 0)
	c.Start(start, start.Add(350*time.Millisecond))

	if n := c.Advance(0); n != 3 {
		t.Errorf("owed ticks = %d, want 3", n)
	}
}

func Test_ClockStartInFuture(t *testing.T) {
	c := NewClock(10)
	start := time.Unix(100, 0)
	c.Start(start, start.Add(-time.Second))

	if n := c.Advance(900 * time.Millisecond); n != 0 {
		t.Errorf("ticks before start = %d", n)
	}
	if n := c.Advance(200 * time.Millisecond); n != 1 {
		t.Errorf("ticks = %d, want 1", n)
	}
}

func Test_ClockMonotonic(t *testing.T) {
	c := NewClock(60)
	for i := 1; i <= 5; i++ {
		if f := c.Tick(); f != Frame(i) {
			t.Fatalf("tick %d returned %d", i, f)
		}
	}
	c.FastForward(3)
	if c.Frame() != 5 {
		t.Error("FastForward moved the clock backwards")
	}
	c.FastForward(9)
	if c.Frame() != 9 {
		t.Errorf("frame = %d, want 9", c.Frame())
	}
}

func Test_ClockFrameAt(t *testing.T) {
	c := NewClock(50)
	start := time.Unix(200, 0)
	if c.FrameAt(start) != 0 {
		t.Error("unstarted clock should map to frame 0")
	}
	c.Start(start, start)
	if f := c.FrameAt(start.Add(-time.Second)); f != 0 {
		t.Errorf("before start = %d", f)
	}
	if f := c.FrameAt(start.Add(time.Second)); f != 50 {
		t.Errorf("one second = %d, want 50", f)
	}
}

func Test_SnapshotDigest(t *testing.T) {
	var a, b Snapshot
	a[1].Position[0] = 12.5
	b[1].Position[0] = 12.5

	if a.Digest(10) != b.Digest(10) {
		t.Error("equal snapshots hash differently")
	}
	if a.Digest(10) == a.Digest(11) {
		t.Error("frame is not part of the digest")
	}
	b[2].Rotation = 1
	if a.Equal(&b) || a.Digest(10) == b.Digest(10) {
		t.Error("different snapshots compare equal")
	}
}
