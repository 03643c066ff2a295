package session

import (
	"sync"

	"github.com/smallnest/ringbuffer"
)

// rawTail keeps the most recent raw bytes received on the image characteristic,
// regardless of frame boundaries, for diagnostics.
type rawTail struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	discard []byte
}

func newRawTail(size int) *rawTail {
	return &rawTail{
		rb:      ringbuffer.New(size),
		discard: make([]byte, size),
	}
}

// Append records p, evicting the oldest bytes when full.
func (t *rawTail) Append(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	capacity := t.rb.Capacity()
	if len(p) >= capacity {
		p = p[len(p)-capacity:]
	}
	if over := len(p) - (capacity - t.rb.Length()); over > 0 {
		_, _ = t.rb.TryRead(t.discard[:over])
	}
	_, _ = t.rb.Write(p)
}

// Bytes returns a copy of the buffered bytes, oldest first.
func (t *rawTail) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.rb.Length()
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	n, _ = t.rb.TryRead(out)
	out = out[:n]
	_, _ = t.rb.Write(out)
	return out
}

// Reset drops everything.
func (t *rawTail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rb.Reset()
}
