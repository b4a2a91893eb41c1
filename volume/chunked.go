package volume

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"path"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"gocloud.dev/blob"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/ooc/cache"
	"github.com/janelia-flyem/ooc/ooc"
)

// maxChunkReaders bounds the concurrent chunk reads of one GetSliceRect.
const maxChunkReaders = 8

// ChunkKey identifies a decoded chunk, or a single z plane of it, in the cache.
type ChunkKey struct {
	Level   string
	Z, Y, X int // chunk grid coordinates

	// Plane is 0 for a whole chunk and 1 + the z offset within the chunk for a
	// single plane read from an uncompressed chunk.
	Plane int
}

func (k ChunkKey) String() string {
	if k.Plane == 0 {
		return fmt.Sprintf("%s/%d.%d.%d", k.Level, k.Z, k.Y, k.X)
	}
	return fmt.Sprintf("%s/%d.%d.%d#%d", k.Level, k.Z, k.Y, k.X, k.Plane-1)
}

// chunk is a decoded chunk or chunk plane in z, y, x order.
type chunk struct {
	shape [3]int
	data  []uint16
}

func (c *chunk) at(z, y, x int) uint16 {
	return c.data[(z*c.shape[1]+y)*c.shape[2]+x]
}

// ChunkedVolume is a multi-resolution chunked array volume with one zarr v2 array per
// resolution level.  Extents are only known once a level is active.
type ChunkedVolume struct {
	path   string
	bucket *blob.Bucket
	meta   Metadata
	retry  retryPolicy
	levels []string
	attrs  *groupAttrs

	fetcher *cache.Fetcher[ChunkKey, *chunk]
	bytes   *cache.ByteCache

	mu    sync.RWMutex
	level string
	array *arrayMeta
}

func newChunkedVolume(ref string, b *blob.Bucket, meta Metadata, opts Options) (*ChunkedVolume, error) {
	c, err := cache.NewSliceCache[ChunkKey, *chunk](opts.CacheCapacity)
	if err != nil {
		return nil, err
	}
	v := &ChunkedVolume{
		path:    ref,
		bucket:  b,
		meta:    meta,
		retry:   newRetryPolicy(opts),
		fetcher: cache.NewFetcher(c),
		bytes:   cache.NewByteCache(opts.ByteCacheBytes),
	}
	if err := v.discoverLevels(); err != nil {
		return nil, err
	}
	if opts.Level != "" {
		if err := v.SetActiveLevel(opts.Level); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *ChunkedVolume) discoverLevels() error {
	dirs, err := listDirs(v.bucket)
	if err != nil {
		return err
	}
	ctx := context.Background()
	for _, dir := range dirs {
		found, err := v.bucket.Exists(ctx, path.Join(dir, arrayMetaName))
		if err != nil {
			return classify("find levels", v.path, err)
		}
		if found {
			v.levels = append(v.levels, dir)
		}
	}
	if len(v.levels) == 0 {
		return ooc.NewError("find levels", v.path, ooc.ErrNotFound, fmt.Errorf("no resolution levels"))
	}
	sort.Strings(v.levels)

	data, err := readObject(v.bucket, groupAttrName)
	switch {
	case err == nil:
		attrs := new(groupAttrs)
		if err := json.Unmarshal(data, attrs); err != nil {
			ooc.Warningf("Ignoring bad %s in volume %s: %v\n", groupAttrName, v.path, err)
		} else {
			v.attrs = attrs
		}
	case ooc.IsNotFound(err):
	default:
		return err
	}
	ooc.Infof("Volume %s has resolution levels %v\n", v.path, v.levels)
	return nil
}

func (v *ChunkedVolume) Format() Format     { return ChunkedArray }
func (v *ChunkedVolume) Path() string       { return v.path }
func (v *ChunkedVolume) Metadata() Metadata { return v.meta }
func (v *ChunkedVolume) VoxelSize() float64 { return v.meta.VoxelSize }
func (v *ChunkedVolume) Min() float64       { return v.meta.Min }
func (v *ChunkedVolume) Max() float64       { return v.meta.Max }
func (v *ChunkedVolume) Close() error       { return v.bucket.Close() }

func (v *ChunkedVolume) extent(i int) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.array == nil {
		return 0
	}
	return v.array.Shape[i]
}

// Width is the x extent of the active level.
func (v *ChunkedVolume) Width() int { return v.extent(2) }

// Height is the y extent of the active level.
func (v *ChunkedVolume) Height() int { return v.extent(1) }

// Depth is the z extent of the active level.
func (v *ChunkedVolume) Depth() int { return v.extent(0) }

// Levels returns the resolution levels in lexicographic order.
func (v *ChunkedVolume) Levels() []string {
	return append([]string(nil), v.levels...)
}

func (v *ChunkedVolume) levelIndex(level string) int {
	i := sort.SearchStrings(v.levels, level)
	if i < len(v.levels) && v.levels[i] == level {
		return i
	}
	return -1
}

// ScaleForLevel returns the multiscale scale factor of a level, 1 if none is recorded.
func (v *ChunkedVolume) ScaleForLevel(level string) (float64, error) {
	i := v.levelIndex(level)
	if i < 0 {
		return 0, ooc.NewError("scale for level", v.path, ooc.ErrInvalidLevel, fmt.Errorf("%q", level))
	}
	if s, found := v.attrs.scale(level, i); found {
		return s, nil
	}
	return 1, nil
}

// ActiveLevel returns the active resolution level, empty if none is set.
func (v *ChunkedVolume) ActiveLevel() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.level
}

// ChunkShape returns the z, y, x chunk shape of the active level.
func (v *ChunkedVolume) ChunkShape() [3]int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.array == nil {
		return [3]int{}
	}
	return [3]int{v.array.Chunks[0], v.array.Chunks[1], v.array.Chunks[2]}
}

// SetActiveLevel makes level the resolution level served by reads and purges all
// cached chunks.
func (v *ChunkedVolume) SetActiveLevel(level string) error {
	if v.levelIndex(level) < 0 {
		return ooc.NewError("set level", v.path, ooc.ErrInvalidLevel,
			fmt.Errorf("%q not in %v", level, v.levels))
	}
	key := path.Join(level, arrayMetaName)
	data, err := readObject(v.bucket, key)
	if err != nil {
		return err
	}
	array, err := parseArrayMeta(data)
	if err != nil {
		return ooc.NewError("set level", key, ooc.ErrInvalidArgument, err)
	}
	v.mu.Lock()
	v.level = level
	v.array = array
	v.mu.Unlock()
	v.CachePurge()
	ooc.Infof("Volume %s now at level %q: %d x %d x %d, chunks %v\n", v.path, level,
		array.Shape[2], array.Shape[1], array.Shape[0], array.Chunks)
	if limit := v.bytes.MaxEntrySize(); v.bytes.Enabled() && 2*array.chunkVoxels() > limit {
		ooc.Warningf("Chunks of level %q are %s decoded but byte cache entries are limited to %s compressed, "+
			"so poorly compressing chunks will not be cached.  A budget of %d MB fits any chunk.\n",
			level, humanize.Bytes(uint64(2*array.chunkVoxels())), humanize.Bytes(uint64(limit)),
			2*array.chunkVoxels()*ooc.Kilo/ooc.Mega+1)
	}
	return nil
}

// CachePurge empties both chunk cache tiers.  Chunks being read are not cached.
func (v *ChunkedVolume) CachePurge() {
	v.fetcher.Purge()
	v.bytes.Clear()
}

// SetCacheCapacity sets the number of decoded chunks kept.
func (v *ChunkedVolume) SetCacheCapacity(n int) error {
	return v.fetcher.Cache().SetCapacity(n)
}

// CacheStats returns cumulative chunk cache counts.
func (v *ChunkedVolume) CacheStats() cache.FetchStats {
	return v.fetcher.Stats()
}

// ByteCacheStats returns the second tier cache counts.
func (v *ChunkedVolume) ByteCacheStats() cache.ByteCacheStats {
	return v.bytes.Stats()
}

func (v *ChunkedVolume) active(op string) (string, *arrayMeta, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.array == nil {
		return "", nil, ooc.NewError(op, v.path, ooc.ErrInvalidLevel, fmt.Errorf("no active level"))
	}
	return v.level, v.array, nil
}

// GetSlice returns the full plane at index along axis.
func (v *ChunkedVolume) GetSlice(index int, axis ooc.Axis) (*Slice, error) {
	return v.GetSliceRect(index, axis, image.Rect(0, 0, 1<<30, 1<<30))
}

// toVolume maps plane coordinates (u, v) at index along axis to z, y, x.
func toVolume(axis ooc.Axis, index, u, w int) (z, y, x int) {
	switch axis {
	case ooc.Z:
		return index, w, u
	case ooc.Y:
		return w, index, u
	default:
		return w, u, index
	}
}

// GetSliceRect reads only the chunks that overlap rect in the plane at index.
func (v *ChunkedVolume) GetSliceRect(index int, axis ooc.Axis, rect image.Rectangle) (*Slice, error) {
	const op = "get slice"
	level, array, err := v.active(op)
	if err != nil {
		return nil, err
	}
	depth, height, width := array.Shape[0], array.Shape[1], array.Shape[2]
	pw, ph, err := planeSize(axis, width, height, depth)
	if err != nil {
		return nil, err
	}
	limit := [3]int{ooc.X: width, ooc.Y: height, ooc.Z: depth}[axis]
	if index < 0 || index >= limit {
		return nil, ooc.NewError(op, v.path, ooc.ErrNotFound,
			fmt.Errorf("%s index %d outside [0,%d)", axis, index, limit))
	}
	r := rect.Intersect(image.Rect(0, 0, pw, ph))
	out := NewSlice(r.Dx(), r.Dy())
	if out.Empty() {
		return out, nil
	}

	// voxel bounds [lo, hi) in z, y, x
	z0, y0, x0 := toVolume(axis, index, r.Min.X, r.Min.Y)
	z1, y1, x1 := toVolume(axis, index, r.Max.X-1, r.Max.Y-1)
	lo := [3]int{z0, y0, x0}
	hi := [3]int{z1 + 1, y1 + 1, x1 + 1}

	var keys []ChunkKey
	for cz := lo[0] / array.Chunks[0]; cz <= (hi[0]-1)/array.Chunks[0]; cz++ {
		for cy := lo[1] / array.Chunks[1]; cy <= (hi[1]-1)/array.Chunks[1]; cy++ {
			for cx := lo[2] / array.Chunks[2]; cx <= (hi[2]-1)/array.Chunks[2]; cx++ {
				key := ChunkKey{Level: level, Z: cz, Y: cy, X: cx}
				if axis == ooc.Z && array.uncompressed() && !v.fetcher.Cache().Contains(key) {
					key.Plane = index - cz*array.Chunks[0] + 1
				}
				keys = append(keys, key)
			}
		}
	}

	timedLog := ooc.NewTimeLog()
	g := new(errgroup.Group)
	g.SetLimit(maxChunkReaders)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			c, err := v.fetcher.Fetch(key, func(k ChunkKey) (*chunk, error) {
				return v.loadChunk(array, k)
			})
			if err != nil {
				return err
			}
			copyOverlap(out, r, axis, index, array, key, c, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	timedLog.Debugf("Read %s slice %d rect %v of %s from %d chunks", axis, index, r, v.path, len(keys))
	return out, nil
}

// copyOverlap copies the voxels of chunk c within [lo, hi) into out, whose origin is
// at r.Min in plane coordinates.  Chunks write disjoint parts of out.
func copyOverlap(out *Slice, r image.Rectangle, axis ooc.Axis, index int, array *arrayMeta,
	key ChunkKey, c *chunk, lo, hi [3]int) {

	origin := [3]int{key.Z * array.Chunks[0], key.Y * array.Chunks[1], key.X * array.Chunks[2]}
	if key.Plane != 0 {
		origin[0] = index
	}
	var a, b [3]int
	for i := 0; i < 3; i++ {
		a[i] = max(lo[i], origin[i])
		b[i] = min(hi[i], origin[i]+c.shape[i])
	}
	for z := a[0]; z < b[0]; z++ {
		for y := a[1]; y < b[1]; y++ {
			for x := a[2]; x < b[2]; x++ {
				var u, w int
				switch axis {
				case ooc.Z:
					u, w = x, y
				case ooc.Y:
					u, w = x, z
				default:
					u, w = y, z
				}
				out.Set(u-r.Min.X, w-r.Min.Y, c.at(z-origin[0], y-origin[1], x-origin[2]))
			}
		}
	}
}

// loadChunk reads and decodes a chunk or chunk plane, consulting the byte cache first.
// A chunk with no stored object is filled with the array's fill value.
func (v *ChunkedVolume) loadChunk(array *arrayMeta, key ChunkKey) (*chunk, error) {
	shape := [3]int{array.Chunks[0], array.Chunks[1], array.Chunks[2]}
	if key.Plane != 0 {
		shape[0] = 1
	}
	numVoxels := shape[0] * shape[1] * shape[2]
	cacheKey := v.path + "|" + key.String()
	if raw, found := v.bytes.Get(cacheKey); found && len(raw) == 2*numVoxels {
		data := make([]uint16, numVoxels)
		for i := range data {
			data[i] = binary.LittleEndian.Uint16(raw[2*i:])
		}
		return &chunk{shape: shape, data: data}, nil
	}

	name := path.Join(key.Level, array.chunkName(key.Z, key.Y, key.X))
	var raw []byte
	var err error
	if key.Plane != 0 {
		planeBytes := int64(shape[1] * shape[2] * array.itemSize)
		offset := int64(key.Plane-1) * planeBytes
		raw, err = v.retry.do(name, func() ([]byte, error) {
			return rangeRead(v.bucket, name, offset, planeBytes)
		})
	} else {
		raw, err = v.retry.do(name, func() ([]byte, error) {
			return readObject(v.bucket, name)
		})
	}
	var data []uint16
	switch {
	case ooc.IsNotFound(err):
		data = make([]uint16, numVoxels)
		if array.fill != 0 {
			for i := range data {
				data[i] = array.fill
			}
		}
		ooc.Debugf("Chunk %s of %s missing, using fill value %d\n", name, v.path, array.fill)
	case err != nil:
		return nil, err
	default:
		decoded, err := decompress(array.Compressor, raw)
		if err != nil {
			return nil, ooc.NewError("decompress chunk", name, ooc.ErrIO, err)
		}
		if data, err = array.decodeValues(decoded, numVoxels); err != nil {
			return nil, ooc.NewError("decode chunk", name, ooc.ErrIO, err)
		}
	}
	if v.bytes.Enabled() {
		buf := make([]byte, 2*len(data))
		for i, val := range data {
			binary.LittleEndian.PutUint16(buf[2*i:], val)
		}
		v.bytes.Set(cacheKey, buf)
	}
	return &chunk{shape: shape, data: data}, nil
}
