// Package shape describes feature map tensors by their dimensions only.
//
// A Shape is channels-last: batch, height, width, channels. Every layer in
// the graph package maps input shapes to an output shape so mismatches are
// reported while the graph is built rather than inside a numerical kernel.
package shape

import (
	"fmt"
)

// Dynamic marks an unknown batch size.
const Dynamic = -1

// Shape is a rank-4 channels-last tensor descriptor.
type Shape struct {
	Batch    int
	Height   int
	Width    int
	Channels int
}

// New creates a Shape with a dynamic batch dimension.
func New(h, w, c int) Shape {
	return Shape{Batch: Dynamic, Height: h, Width: w, Channels: c}
}

// WithChannels returns a copy of s with channel count c.
func (s Shape) WithChannels(c int) Shape {
	s.Channels = c
	return s
}

// WithSpatial returns a copy of s with the given height and width.
func (s Shape) WithSpatial(h, w int) Shape {
	s.Height = h
	s.Width = w
	return s
}

// Valid reports whether every known dimension is positive.
func (s Shape) Valid() bool {
	if s.Batch != Dynamic && s.Batch <= 0 {
		return false
	}
	return s.Height > 0 && s.Width > 0 && s.Channels > 0
}

// Equal reports whether s and o agree in every dimension.
func (s Shape) Equal(o Shape) bool {
	return s == o
}

// SpatialEqual reports whether s and o agree in batch, height and width.
func (s Shape) SpatialEqual(o Shape) bool {
	return s.Batch == o.Batch && s.Height == o.Height && s.Width == o.Width
}

// NHWC returns the dimensions in channels-last order.
func (s Shape) NHWC() []int64 {
	return []int64{int64(s.Batch), int64(s.Height), int64(s.Width), int64(s.Channels)}
}

// NCHW returns the dimensions in channels-first order as used by libtorch.
// A dynamic batch is reported as -1.
func (s Shape) NCHW() []int64 {
	return []int64{int64(s.Batch), int64(s.Channels), int64(s.Height), int64(s.Width)}
}

// Elements returns the number of elements of a single sample.
func (s Shape) Elements() int {
	return s.Height * s.Width * s.Channels
}

// String prints s like (None, 224, 224, 3).
func (s Shape) String() string {
	batch := "None"
	if s.Batch != Dynamic {
		batch = fmt.Sprint(s.Batch)
	}
	return fmt.Sprintf("(%v, %d, %d, %d)", batch, s.Height, s.Width, s.Channels)
}

// FromNCHW converts libtorch tensor dimensions into a Shape.
func FromNCHW(dims []int64) (Shape, error) {
	if len(dims) != 4 {
		return Shape{}, &ConfigurationError{Field: "dims", Value: dims, Reason: "expected rank 4 [N C H W]"}
	}
	return Shape{
		Batch:    int(dims[0]),
		Channels: int(dims[1]),
		Height:   int(dims[2]),
		Width:    int(dims[3]),
	}, nil
}

// Matches reports whether a concrete shape satisfies s, treating a dynamic
// batch in s as a wildcard.
func (s Shape) Matches(concrete Shape) bool {
	if s.Batch != Dynamic && s.Batch != concrete.Batch {
		return false
	}
	return s.Height == concrete.Height && s.Width == concrete.Width && s.Channels == concrete.Channels
}
