package volume

import (
	"bytes"
	"fmt"
	"image"
	"strconv"

	"gocloud.dev/blob"
	"golang.org/x/image/tiff"

	"github.com/janelia-flyem/ooc/cache"
	"github.com/janelia-flyem/ooc/ooc"
)

// FlatVolume is a volume stored as one TIFF per z-slice, named by the zero-padded
// slice index.  Only z slices can be read.
type FlatVolume struct {
	path    string
	bucket  *blob.Bucket
	meta    Metadata
	digits  int
	fetcher *cache.Fetcher[int, *Slice]
}

func newFlatVolume(path string, b *blob.Bucket, meta Metadata, opts Options) (*FlatVolume, error) {
	c, err := cache.NewSliceCache[int, *Slice](opts.CacheCapacity)
	if err != nil {
		return nil, err
	}
	return &FlatVolume{
		path:    path,
		bucket:  b,
		meta:    meta,
		digits:  len(strconv.Itoa(meta.Slices)),
		fetcher: cache.NewFetcher(c),
	}, nil
}

func (v *FlatVolume) Format() Format     { return FlatSlices }
func (v *FlatVolume) Path() string       { return v.path }
func (v *FlatVolume) Metadata() Metadata { return v.meta }
func (v *FlatVolume) Width() int         { return v.meta.Width }
func (v *FlatVolume) Height() int        { return v.meta.Height }
func (v *FlatVolume) Depth() int         { return v.meta.Slices }
func (v *FlatVolume) VoxelSize() float64 { return v.meta.VoxelSize }
func (v *FlatVolume) Min() float64       { return v.meta.Min }
func (v *FlatVolume) Max() float64       { return v.meta.Max }
func (v *FlatVolume) CachePurge()        { v.fetcher.Purge() }
func (v *FlatVolume) Close() error       { return v.bucket.Close() }

// SetCacheCapacity sets the number of cached slices.
func (v *FlatVolume) SetCacheCapacity(n int) error {
	return v.fetcher.Cache().SetCapacity(n)
}

// CacheStats returns cumulative slice cache counts.
func (v *FlatVolume) CacheStats() cache.FetchStats {
	return v.fetcher.Stats()
}

// SliceName returns the object name of the slice at index.
func (v *FlatVolume) SliceName(index int) string {
	return fmt.Sprintf("%0*d.tif", v.digits, index)
}

func (v *FlatVolume) checkIndex(op string, index int, axis ooc.Axis) error {
	if axis != ooc.Z {
		return ooc.NewError(op, v.path, ooc.ErrUnsupportedAxis,
			fmt.Errorf("flat volumes only hold z slices, not %s", axis))
	}
	if index < 0 || index >= v.meta.Slices {
		return ooc.NewError(op, v.path, ooc.ErrNotFound,
			fmt.Errorf("slice %d outside [0,%d)", index, v.meta.Slices))
	}
	return nil
}

// GetSlice returns the z slice at index.
func (v *FlatVolume) GetSlice(index int, axis ooc.Axis) (*Slice, error) {
	if err := v.checkIndex("get slice", index, axis); err != nil {
		return nil, err
	}
	return v.fetcher.Fetch(index, v.loadSlice)
}

// GetSliceRect returns a copy of the part of z slice index within rect.
func (v *FlatVolume) GetSliceRect(index int, axis ooc.Axis, rect image.Rectangle) (*Slice, error) {
	s, err := v.GetSlice(index, axis)
	if err != nil {
		return nil, err
	}
	return s.SubImage(rect), nil
}

func (v *FlatVolume) loadSlice(index int) (*Slice, error) {
	name := v.SliceName(index)
	data, err := readObject(v.bucket, name)
	if err != nil {
		return nil, err
	}
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ooc.NewError("decode slice", name, ooc.ErrIO, err)
	}
	s := SliceFromImage(img)
	if s.Width != v.meta.Width || s.Height != v.meta.Height {
		ooc.Warningf("Slice %s of volume %s is %d x %d, expected %d x %d\n", name, v.path,
			s.Width, s.Height, v.meta.Width, v.meta.Height)
	}
	ooc.Debugf("Loaded slice %s of volume %s\n", name, v.path)
	return s, nil
}

// SetSliceData writes the z slice at index, Deflate compressed if compress is true.
// The written slice replaces any cached copy.
func (v *FlatVolume) SetSliceData(index int, s *Slice, compress bool) error {
	if err := v.checkIndex("set slice", index, ooc.Z); err != nil {
		return err
	}
	if s.Width != v.meta.Width || s.Height != v.meta.Height {
		return ooc.NewError("set slice", v.path, ooc.ErrInvalidArgument,
			fmt.Errorf("slice is %d x %d, volume is %d x %d", s.Width, s.Height, v.meta.Width, v.meta.Height))
	}
	opts := &tiff.Options{Compression: tiff.Uncompressed}
	if compress {
		opts.Compression = tiff.Deflate
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, s.Gray16(), opts); err != nil {
		return ooc.NewError("encode slice", v.SliceName(index), ooc.ErrIO, err)
	}
	if err := writeObject(v.bucket, v.SliceName(index), buf.Bytes()); err != nil {
		return err
	}
	cp := &Slice{Width: s.Width, Height: s.Height, Pix: append([]uint16(nil), s.Pix...)}
	v.fetcher.Cache().Put(index, cp)
	return nil
}
