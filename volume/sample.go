package volume

import (
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/janelia-flyem/ooc/ooc"
)

// Bounds returns the box from the origin to (width, height, depth).
func Bounds(ds Dataset) r3.Box {
	return r3.Box{
		Max: r3.Vec{X: float64(ds.Width()), Y: float64(ds.Height()), Z: float64(ds.Depth())},
	}
}

// IsInBounds returns true if (x, y, z) is within the half-open volume bounds.
func IsInBounds(ds Dataset, x, y, z float64) bool {
	return x >= 0 && x < float64(ds.Width()) &&
		y >= 0 && y < float64(ds.Height()) &&
		z >= 0 && z < float64(ds.Depth())
}

// IntensityAt returns the voxel value at (x, y, z), or 0 outside the volume.
func IntensityAt(ds Dataset, x, y, z int) (uint16, error) {
	if x < 0 || x >= ds.Width() || y < 0 || y >= ds.Height() || z < 0 || z >= ds.Depth() {
		return 0, nil
	}
	s, err := ds.GetSliceRect(z, ooc.Z, image.Rect(x, y, x+1, y+1))
	if err != nil {
		return 0, err
	}
	if s.Empty() {
		return 0, nil
	}
	return s.At(0, 0), nil
}

// InterpolateAt returns the trilinear interpolation of the eight voxels around
// (x, y, z).  Neighbors outside the volume count as 0 and points outside are 0.
func InterpolateAt(ds Dataset, x, y, z float64) (uint16, error) {
	if !IsInBounds(ds, x, y, z) {
		return 0, nil
	}
	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	dx, dy, dz := x-x0, y-y0, z-z0
	ix, iy, iz := int(x0), int(y0), int(z0)

	var c [2][2][2]float64 // [z][y][x]
	for k := 0; k < 2; k++ {
		for j := 0; j < 2; j++ {
			for i := 0; i < 2; i++ {
				v, err := IntensityAt(ds, ix+i, iy+j, iz+k)
				if err != nil {
					return 0, err
				}
				c[k][j][i] = float64(v)
			}
		}
	}
	lerp := func(a, b, t float64) float64 { return a*(1-t) + b*t }
	c0 := lerp(lerp(c[0][0][0], c[0][0][1], dx), lerp(c[0][1][0], c[0][1][1], dx), dy)
	c1 := lerp(lerp(c[1][0][0], c[1][0][1], dx), lerp(c[1][1][0], c[1][1][1], dx), dy)
	return uint16(math.Round(lerp(c0, c1, dz))), nil
}
