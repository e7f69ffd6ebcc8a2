package playback

import (
	"sync"
	"time"
)

// Clock stands in for the local media element: a position in seconds that
// advances with wall time while playing.
type Clock struct {
	mu      sync.Mutex
	now     func() time.Time
	base    float64
	since   time.Time
	playing bool
}

// NewClock returns a paused clock at position 0. A nil now uses time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Position returns the current playback position in seconds.
func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Clock) positionLocked() float64 {
	if !c.playing {
		return c.base
	}
	return c.base + c.now().Sub(c.since).Seconds()
}

func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		return
	}
	c.since = c.now()
	c.playing = true
}

func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return
	}
	c.base = c.positionLocked()
	c.playing = false
}

// Seek moves the position to pos, keeping the play state.
func (c *Clock) Seek(pos float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = pos
	c.since = c.now()
}

// Reset pauses the clock at position 0.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = 0
	c.playing = false
}
