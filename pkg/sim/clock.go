package sim

import (
	"time"
)

// Clock monotonic frame counter driving the fixed-timestep simulation.
//
// The counter only moves forward. Wall time enters in two ways: FrameAt maps a
// wall-clock instant to the frame that should be simulated by then, and Advance
// accumulates elapsed time and reports how many whole ticks are due.
type Clock struct {
	period      time.Duration
	start       time.Time
	started     bool
	frame       Frame
	accumulator time.Duration
}

// NewClock builds a clock ticking tickRate times per second.
func NewClock(tickRate int) *Clock {
	if tickRate <= 0 {
		tickRate = 1
	}
	return &Clock{
		period: time.Second / time.Duration(tickRate),
	}
}

// Period duration of one frame
func (c *Clock) Period() time.Duration {
	return c.period
}

// Start anchors frame 0 at startTime. When now is already past startTime the
// elapsed time is owed as ticks, when it is before startTime the clock waits.
func (c *Clock) Start(startTime, now time.Time) {
	c.start = startTime
	c.started = true
	c.accumulator = now.Sub(startTime)
}

// Started reports whether Start was called.
func (c *Clock) Started() bool {
	return c.started
}

// StartTime instant of frame 0
func (c *Clock) StartTime() time.Time {
	return c.start
}

// Frame latest frame handed out by Tick
func (c *Clock) Frame() Frame {
	return c.frame
}

// FrameAt the frame that should have been simulated at t.
func (c *Clock) FrameAt(t time.Time) Frame {
	if !c.started || t.Before(c.start) {
		return 0
	}
	return Frame(t.Sub(c.start) / c.period)
}

// Advance adds dt and returns the number of whole ticks now due, consuming them.
func (c *Clock) Advance(dt time.Duration) int {
	if !c.started {
		return 0
	}
	c.accumulator += dt
	if c.accumulator < c.period {
		return 0
	}
	n := int(c.accumulator / c.period)
	c.accumulator -= time.Duration(n) * c.period
	return n
}

// Tick moves to the next frame and returns it.
func (c *Clock) Tick() Frame {
	c.frame++
	return c.frame
}

// FastForward jumps to f when f is ahead, it never moves backwards.
func (c *Clock) FastForward(f Frame) {
	if f > c.frame {
		c.frame = f
	}
}
