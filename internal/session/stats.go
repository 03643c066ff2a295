package session

import (
	"math"
	"sync"
	"time"
)

// Stats is a point-in-time view of link counters.
type Stats struct {
	Subscribed    bool      `json:"subscribed"`
	TotalBytes    uint64    `json:"total_bytes"`
	TotalFrames   uint64    `json:"total_frames"`
	FramesDropped uint64    `json:"frames_dropped"` // completed but never handed to the consumer
	LastChunkLen  uint32    `json:"last_chunk_len"`
	LastEventAt   time.Time `json:"last_event_at"` // zero until the first chunk
}

// HasEvent reports whether any chunk has been counted since the last reset.
func (s Stats) HasEvent() bool {
	return !s.LastEventAt.IsZero()
}

// StatsCollector keeps link counters. Byte and frame totals only grow until Reset.
type StatsCollector struct {
	mu    sync.RWMutex
	stats Stats
	now   func() time.Time
}

// NewStatsCollector creates a collector stamping events with now (time.Now if nil).
func NewStatsCollector(now func() time.Time) *StatsCollector {
	if now == nil {
		now = time.Now
	}
	return &StatsCollector{now: now}
}

// OnChunk counts one received chunk of n bytes.
func (c *StatsCollector) OnChunk(n int) {
	at := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalBytes += uint64(n)
	if n > math.MaxUint32 {
		c.stats.LastChunkLen = math.MaxUint32
	} else {
		c.stats.LastChunkLen = uint32(n)
	}
	c.stats.LastEventAt = at
}

// OnFrameCompleted counts one completed frame.
func (c *StatsCollector) OnFrameCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalFrames++
}

// OnFrameDropped counts one completed frame the consumer never received.
func (c *StatsCollector) OnFrameDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.FramesDropped++
}

// OnSubscribed marks the link subscribed and forgets the previous chunk.
func (c *StatsCollector) OnSubscribed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Subscribed = true
	c.stats.LastChunkLen = 0
	c.stats.LastEventAt = time.Time{}
}

// Reset returns every field to its initial value.
func (c *StatsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

// Snapshot returns a copy of the current counters.
func (c *StatsCollector) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
