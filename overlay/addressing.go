package overlay

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/janelia-flyem/ooc/meshio"
	"github.com/janelia-flyem/ooc/ooc"
)

// Addressing maps query regions to chunk ids and chunk ids to files.
type Addressing struct {
	Settings
}

// NewAddressing returns the addressing for the given settings.
func NewAddressing(s Settings) Addressing {
	return Addressing{Settings: s}
}

func floorMultiple(v float64, m int) int {
	return int(math.Floor(v/float64(m))) * m
}

// layerLow returns the lower bound of the layer folder holding slice coordinate v,
// before the one chunk start shift.
func (a Addressing) layerLow(v float64) int {
	margin := float64(a.ChunkSize) * a.Scale
	return floorMultiple((v-margin)/a.Scale, a.ChunkSize) - a.Offset
}

func (a Addressing) cell(v float64) int {
	return int(math.Floor((v/a.Scale - float64(a.Offset)) / float64(a.ChunkSize)))
}

// MaxQueryChunks bounds the number of chunk ids a single query may enumerate.
const MaxQueryChunks = 1 << 16

// chunkRange is the inclusive range of chunk coordinates of a query along each
// logical axis, in steps of step.
type chunkRange struct {
	start, end [3]int // x, y, z
	step       int
}

func (r chunkRange) count() int {
	n := 1
	for i := 0; i < 3; i++ {
		if r.end[i] < r.start[i] {
			return 0
		}
		n *= (r.end[i]-r.start[i])/r.step + 1
	}
	return n
}

// queryRange returns the chunk range of the z slice zIndex within rect.  An error is
// returned for non-finite coordinates, chunk coordinates outside the int32 range, or
// more than MaxQueryChunks chunks.
func (a Addressing) queryRange(rect ooc.Rect, zIndex int) (chunkRange, error) {
	var r chunkRange
	limit := float64(math.MaxInt32/2) * a.Scale
	for _, v := range []float64{rect.Min[0], rect.Min[1], rect.Max[0], rect.Max[1], float64(zIndex)} {
		if math.IsNaN(v) || math.Abs(v) > limit {
			return r, ooc.NewError("determine chunks", a.Path, ooc.ErrInvalidArgument,
				fmt.Errorf("query %s at z %d is outside the addressable range", rect, zIndex))
		}
	}
	switch a.Naming {
	case NamingCells:
		r.start = [3]int{a.cell(rect.Min[0]), a.cell(rect.Min[1]), a.cell(float64(zIndex))}
		r.end = [3]int{a.cell(rect.Max[0]), a.cell(rect.Max[1]), r.start[2]}
		r.step = 1
	default:
		// A layer folder named n holds points from one chunk below n, so the
		// first row and column start one chunk below the floor.
		minLow := floorMultiple(float64(-a.Offset), a.ChunkSize) - a.ChunkSize
		r.start[0] = max(minLow, a.layerLow(rect.Min[0])) - a.ChunkSize
		r.start[1] = max(minLow, a.layerLow(rect.Min[1])) - a.ChunkSize
		r.end[0] = a.layerLow(rect.Max[0])
		r.end[1] = a.layerLow(rect.Max[1])
		r.end[2] = max(minLow, a.layerLow(float64(zIndex)))
		r.start[2] = r.end[2] - a.ChunkSize
		r.step = a.ChunkSize
	}
	for i := 0; i < 3; i++ {
		if r.start[i] < math.MinInt32 || r.end[i] > math.MaxInt32 {
			return r, ooc.NewError("determine chunks", a.Path, ooc.ErrInvalidArgument,
				fmt.Errorf("query %s at z %d has chunk coordinates outside the int32 range", rect, zIndex))
		}
	}
	for i := 0; i < 3; i++ {
		if r.end[i] >= r.start[i] && (r.end[i]-r.start[i])/r.step >= MaxQueryChunks {
			return r, ooc.NewError("determine chunks", a.Path, ooc.ErrInvalidArgument,
				fmt.Errorf("query %s at z %d spans more than %d chunks", rect, zIndex, MaxQueryChunks))
		}
	}
	if n := r.count(); n > MaxQueryChunks {
		return r, ooc.NewError("determine chunks", a.Path, ooc.ErrInvalidArgument,
			fmt.Errorf("query %s at z %d spans %d chunks, more than %d", rect, zIndex, n, MaxQueryChunks))
	}
	return r, nil
}

// DetermineChunks returns the ids of all chunks that may hold points of the z slice
// zIndex within rect.  Ids hold logical x, y and z at the configured physical axes.
// A query that cannot be addressed, or spans more than MaxQueryChunks chunks, is
// logged and yields no ids.
func (a Addressing) DetermineChunks(rect ooc.Rect, zIndex int) []ooc.ChunkID {
	if a.Path == "" || a.ChunkSize <= 0 || a.Scale <= 0 {
		return nil
	}
	r, err := a.queryRange(rect, zIndex)
	if err != nil {
		ooc.Warningf("Ignoring overlay query: %v\n", err)
		return nil
	}
	ids := make([]ooc.ChunkID, 0, r.count())
	for z := r.start[2]; z <= r.end[2]; z += r.step {
		for x := r.start[0]; x <= r.end[0]; x += r.step {
			for y := r.start[1]; y <= r.end[1]; y += r.step {
				var id ooc.ChunkID
				id[a.XAxis] = int32(x)
				id[a.YAxis] = int32(y)
				id[a.ZAxis] = int32(z)
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// ChunkName returns the folder (layers) or file stem (cells) name of a chunk.
func (a Addressing) ChunkName(id ooc.ChunkID) string {
	x, y, z := id[a.XAxis], id[a.YAxis], id[a.ZAxis]
	if a.Naming == NamingCells {
		return fmt.Sprintf("cell_yxz_%03d_%03d_%03d", y, x, z)
	}
	return fmt.Sprintf("%06d_%06d_%06d", y, z, x)
}

// ResolveFiles returns the sorted mesh files of a chunk.  A chunk with no folder or
// file on disk has no files and is not an error.
func (a Addressing) ResolveFiles(id ooc.ChunkID) ([]string, error) {
	if a.Path == "" {
		return nil, nil
	}
	name := a.ChunkName(id)
	if a.Naming == NamingCells {
		var files []string
		for _, ext := range meshio.Extensions() {
			filename := filepath.Join(a.Path, name+ext)
			if info, err := os.Stat(filename); err == nil && info.Mode().IsRegular() {
				files = append(files, filename)
			}
		}
		sort.Strings(files)
		return files, nil
	}
	dir := filepath.Join(a.Path, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ooc.IOError("resolve chunk files", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && meshio.Supported(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}
