package frame

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/srg/moodsip/internal/device"
)

// EmitFunc receives a completed frame. Returning an error aborts the current chunk.
type EmitFunc func(Frame) error

// Accumulator rebuilds frames from chunks of arbitrary length.
//
// It is a pure state machine with a single owner: it performs no I/O and no locking,
// so callers must serialize Process/Accept calls.
type Accumulator struct {
	geometry Geometry
	buf      []byte
	filled   int
	seq      uint64
	now      func() time.Time
	entropy  io.Reader
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithClock overrides the clock used to stamp completed frames.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAccumulator creates an empty accumulator for frames of geometry g.
// Panics if g is not valid.
func NewAccumulator(g Geometry, opts ...Option) *Accumulator {
	if !g.Valid() {
		panic(fmt.Sprintf("frame: invalid geometry %dx%d", g.Width, g.Height))
	}
	a := &Accumulator{
		geometry: g,
		buf:      make([]byte, g.Size()),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	t := a.now()
	a.entropy = ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return a
}

// Geometry returns the geometry of frames produced by a.
func (a *Accumulator) Geometry() Geometry {
	return a.geometry
}

// Filled returns how many bytes of the frame under construction have been received.
func (a *Accumulator) Filled() int {
	return a.filled
}

// Completed returns how many frames have been emitted since construction.
func (a *Accumulator) Completed() uint64 {
	return a.seq
}

// Reset discards the partially built frame.
func (a *Accumulator) Reset() {
	clear(a.buf[:a.filled])
	a.filled = 0
}

// Process copies chunk into the frame under construction and calls emit for every
// frame the chunk completes, in stream order. A single chunk may complete several
// frames; bytes past a frame boundary start the next frame.
//
// If emit fails or panics, the partial frame and the unread rest of chunk are
// discarded and the returned error is a device.ReassemblyReset LinkError. A partial
// frame is never passed to emit.
func (a *Accumulator) Process(chunk []byte, emit EmitFunc) (err error) {
	cursor := 0
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			dropped := a.filled + len(chunk) - cursor
			a.Reset()
			err = device.NewError(device.ReassemblyReset, err, "discarded %d buffered bytes", dropped)
		}
	}()

	size := len(a.buf)
	for cursor < len(chunk) {
		n := copy(a.buf[a.filled:], chunk[cursor:])
		a.filled += n
		cursor += n

		if a.filled < size {
			continue
		}

		f := a.handOff()
		if emit != nil {
			if err = emit(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Accept feeds chunk and returns the frames it completed.
func (a *Accumulator) Accept(chunk []byte) ([]Frame, error) {
	var frames []Frame
	err := a.Process(chunk, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	return frames, err
}

// handOff moves the full buffer into a Frame and swaps in a fresh one.
func (a *Accumulator) handOff() Frame {
	a.seq++
	t := a.now()
	f := Frame{
		ID:          ulid.MustNew(ulid.Timestamp(t), a.entropy).String(),
		Seq:         a.seq,
		Geometry:    a.geometry,
		Data:        a.buf,
		CompletedAt: t,
	}
	a.buf = make([]byte, a.geometry.Size())
	a.filled = 0
	return f
}
