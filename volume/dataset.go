/*
	Package volume serves 2d slices and sub-rectangles of large 3d scan volumes without
	holding the volume in memory.  A volume directory holds a meta.json and either one
	TIFF per z-slice (FlatSlices) or a multi-resolution chunked array (ChunkedArray).
	The format is chosen once by Open and each format has its own Dataset implementation.

	Decoded slices and chunks are kept in a bounded LRU cache.  Concurrent reads of the
	same missing slice or chunk result in a single decode whose result all callers share.
*/
package volume

import (
	"fmt"
	"image"
	"time"

	"github.com/janelia-flyem/ooc/ooc"
)

// Format is the on-disk layout of a volume.
type Format uint8

const (
	FlatSlices Format = iota
	ChunkedArray
)

func (f Format) String() string {
	switch f {
	case FlatSlices:
		return "tif"
	case ChunkedArray:
		return "zarr"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// Dataset is a read-mostly 3d volume of 16-bit intensities.
type Dataset interface {
	Format() Format

	// Path is the directory or bucket reference the dataset was opened from.
	Path() string

	Metadata() Metadata

	// Width, Height and Depth are the extents along x, y and z.  For a chunked
	// dataset they describe the active resolution level and are zero until one is set.
	Width() int
	Height() int
	Depth() int

	VoxelSize() float64
	Min() float64
	Max() float64

	// GetSlice returns the full plane at index along axis.  The returned slice
	// may be shared with the cache and must not be modified.
	GetSlice(index int, axis ooc.Axis) (*Slice, error)

	// GetSliceRect returns a copy of the part of the plane at index along axis that
	// lies within rect.  The rectangle is clamped to the plane, so the result may be
	// smaller than rect or empty.
	GetSliceRect(index int, axis ooc.Axis, rect image.Rectangle) (*Slice, error)

	// CachePurge empties the decoded slice or chunk cache.
	CachePurge()

	// SetCacheCapacity changes the number of cached slices or chunks.
	SetCacheCapacity(n int) error

	Close() error
}

// Options control how a dataset is read.
type Options struct {
	// CacheCapacity is the number of decoded slices (flat) or chunks (chunked) kept.
	CacheCapacity int

	// ByteCacheBytes is the budget of the compressed second-tier chunk cache.
	// Zero disables it.  Ignored for flat volumes.
	ByteCacheBytes int

	// Level is the resolution level activated on open for chunked volumes.
	Level string

	// Retries is the number of times a failed chunk read is retried.
	Retries      int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		CacheCapacity: 64,
		Retries:       3,
		RetryInitial:  20 * time.Millisecond,
		RetryMax:      500 * time.Millisecond,
	}
}

// Open reads the volume metadata at path and returns the Dataset for its format.
// Paths of the form gs://bucket/prefix are opened from Google Cloud Storage.
func Open(path string, opts Options) (Dataset, error) {
	if opts.CacheCapacity <= 0 {
		return nil, ooc.NewError("open volume", path, ooc.ErrInvalidArgument,
			fmt.Errorf("cache capacity must be > 0, got %d", opts.CacheCapacity))
	}
	b, err := openBucket(path)
	if err != nil {
		return nil, err
	}
	meta, err := readMetadata(b)
	if err != nil {
		b.Close()
		return nil, err
	}
	format, err := meta.format()
	if err != nil {
		b.Close()
		return nil, ooc.NewError("open volume", path, ooc.ErrInvalidArgument, err)
	}
	var ds Dataset
	switch format {
	case ChunkedArray:
		ds, err = newChunkedVolume(path, b, meta, opts)
	default:
		ds, err = newFlatVolume(path, b, meta, opts)
	}
	if err != nil {
		b.Close()
		return nil, err
	}
	ooc.Infof("Opened %s volume %q (%s) @ %s: %d x %d x %d\n", format, meta.Name, meta.UUID, path,
		ds.Width(), ds.Height(), ds.Depth())
	return ds, nil
}

// Slice is a row-major 16-bit grayscale plane.
type Slice struct {
	Width  int
	Height int
	Pix    []uint16
}

// NewSlice returns a zeroed slice.
func NewSlice(width, height int) *Slice {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Slice{Width: width, Height: height, Pix: make([]uint16, width*height)}
}

// Bounds returns the slice rectangle with origin at (0,0).
func (s *Slice) Bounds() image.Rectangle {
	return image.Rect(0, 0, s.Width, s.Height)
}

// At returns the value at (x, y).  It panics if the point is outside the slice.
func (s *Slice) At(x, y int) uint16 {
	return s.Pix[y*s.Width+x]
}

// Set stores v at (x, y).
func (s *Slice) Set(x, y int, v uint16) {
	s.Pix[y*s.Width+x] = v
}

// Empty returns true if the slice has no pixels.
func (s *Slice) Empty() bool {
	return s.Width == 0 || s.Height == 0
}

// SubImage returns a copy of the part of the slice within r, clamped to the slice.
func (s *Slice) SubImage(r image.Rectangle) *Slice {
	r = r.Intersect(s.Bounds())
	sub := NewSlice(r.Dx(), r.Dy())
	for y := 0; y < sub.Height; y++ {
		src := (r.Min.Y+y)*s.Width + r.Min.X
		copy(sub.Pix[y*sub.Width:(y+1)*sub.Width], s.Pix[src:src+sub.Width])
	}
	return sub
}

// Gray16 returns the slice as a standard library image.
func (s *Slice) Gray16() *image.Gray16 {
	img := image.NewGray16(s.Bounds())
	for i, v := range s.Pix {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return img
}

// SliceFromImage converts any image into a 16-bit slice.  8-bit gray values are
// widened by replication so that 0xff becomes 0xffff.
func SliceFromImage(img image.Image) *Slice {
	b := img.Bounds()
	s := NewSlice(b.Dx(), b.Dy())
	switch m := img.(type) {
	case *image.Gray16:
		for y := 0; y < s.Height; y++ {
			row := m.Pix[m.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < s.Width; x++ {
				s.Pix[y*s.Width+x] = uint16(row[2*x])<<8 | uint16(row[2*x+1])
			}
		}
	case *image.Gray:
		for y := 0; y < s.Height; y++ {
			row := m.Pix[m.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < s.Width; x++ {
				s.Pix[y*s.Width+x] = uint16(row[x]) * 0x101
			}
		}
	default:
		for y := 0; y < s.Height; y++ {
			for x := 0; x < s.Width; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				s.Pix[y*s.Width+x] = uint16((19595*r + 38470*g + 7471*bl + 1<<15) >> 16)
			}
		}
	}
	return s
}

// planeSize returns the width and height of a plane perpendicular to axis.
func planeSize(axis ooc.Axis, width, height, depth int) (int, int, error) {
	switch axis {
	case ooc.Z:
		return width, height, nil
	case ooc.Y:
		return width, depth, nil
	case ooc.X:
		return height, depth, nil
	}
	return 0, 0, ooc.NewError("plane size", "", ooc.ErrUnsupportedAxis, fmt.Errorf("%s", axis))
}
