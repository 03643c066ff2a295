// Package frame reassembles fixed-size grayscale frames from a byte stream that
// arrives in chunks of arbitrary length.
package frame

import (
	"time"
)

// Frame geometry agreed with the bottle firmware: 96x96 8-bit grayscale.
const (
	Width  = 96
	Height = 96
	Bytes  = Width * Height // 9216
)

// Geometry describes the shape of a frame.
type Geometry struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Size returns the number of 8-bit samples in a frame of this geometry.
func (g Geometry) Size() int {
	return g.Width * g.Height
}

// Valid reports whether g describes a non-empty frame.
func (g Geometry) Valid() bool {
	return g.Width > 0 && g.Height > 0
}

// DefaultGeometry returns the firmware frame geometry.
func DefaultGeometry() Geometry {
	return Geometry{Width: Width, Height: Height}
}

// Frame is one completed grayscale image. Data always has exactly Geometry.Size() bytes
// and is owned by the Frame; the accumulator never writes to it after hand-off.
type Frame struct {
	ID          string
	Seq         uint64
	Geometry    Geometry
	Data        []byte
	CompletedAt time.Time
}

// Meta returns the geometry handed to frame consumers alongside the samples.
func (f Frame) Meta() Geometry {
	return f.Geometry
}

// Len returns the number of samples in the frame.
func (f Frame) Len() int {
	return len(f.Data)
}
