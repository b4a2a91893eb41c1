package ooc

import (
	"fmt"
	"math"
	"strings"
)

// Axis is one of the three volume axes.  Slices are taken perpendicular to an axis.
type Axis uint8

const (
	X Axis = iota
	Y
	Z
)

func (a Axis) String() string {
	switch a {
	case X:
		return "x"
	case Y:
		return "y"
	case Z:
		return "z"
	default:
		return fmt.Sprintf("axis(%d)", uint8(a))
	}
}

// Valid returns true for X, Y and Z.
func (a Axis) Valid() bool {
	return a <= Z
}

// ParseAxis converts "x", "y" or "z" (any case) to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return X, nil
	case "y":
		return Y, nil
	case "z":
		return Z, nil
	}
	return Z, NewError("parse axis", "", ErrUnsupportedAxis, fmt.Errorf("%q", s))
}

// Point2d is a continuous 2d point, e.g., a transformed overlay point in slice space.
type Point2d [2]float64

func (p Point2d) X() float64 { return p[0] }
func (p Point2d) Y() float64 { return p[1] }

// Less orders points by x, then y.
func (p Point2d) Less(q Point2d) bool {
	return p[0] < q[0] || (p[0] == q[0] && p[1] < q[1])
}

func (p Point2d) String() string {
	return fmt.Sprintf("(%g,%g)", p[0], p[1])
}

// ChunkID identifies a cuboid chunk.  The three components are physical axes 0, 1, 2;
// which logical axis each holds depends on the addressing settings that produced it.
type ChunkID [3]int32

func (c ChunkID) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c[0], c[1], c[2])
}

// Less is the lexicographic ordering of chunk ids.
func (c ChunkID) Less(d ChunkID) bool {
	switch {
	case c[0] != d[0]:
		return c[0] < d[0]
	case c[1] != d[1]:
		return c[1] < d[1]
	default:
		return c[2] < d[2]
	}
}

// Rect is a continuous 2d rectangle.  Min is inclusive and Max is exclusive,
// as with image.Rectangle.
type Rect struct {
	Min, Max Point2d
}

// NewRect returns the canonical rectangle spanning the two corners.
func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{
		Min: Point2d{math.Min(x0, x1), math.Min(y0, y1)},
		Max: Point2d{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// Dx returns the width of the rectangle.
func (r Rect) Dx() float64 { return r.Max[0] - r.Min[0] }

// Dy returns the height of the rectangle.
func (r Rect) Dy() float64 { return r.Max[1] - r.Min[1] }

// Empty returns true if the rectangle holds no points.
func (r Rect) Empty() bool {
	return r.Min[0] >= r.Max[0] || r.Min[1] >= r.Max[1]
}

// Contains returns true if p lies in the half-open rectangle.
func (r Rect) Contains(p Point2d) bool {
	return p[0] >= r.Min[0] && p[0] < r.Max[0] && p[1] >= r.Min[1] && p[1] < r.Max[1]
}

func (r Rect) String() string {
	return fmt.Sprintf("%s-%s", r.Min, r.Max)
}
