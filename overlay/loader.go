package overlay

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/janelia-flyem/ooc/meshio"
	"github.com/janelia-flyem/ooc/ooc"
)

// DefaultJobsPerWorker is the number of files each worker parses per batch.
const DefaultJobsPerWorker = 5

// LoaderOptions size the loader's worker pool.
type LoaderOptions struct {
	Workers       int // 0 uses runtime.NumCPU()
	JobsPerWorker int // 0 uses DefaultJobsPerWorker
}

// LoaderStats are cumulative loader counts.
type LoaderStats struct {
	Loads           int64 // load passes that read at least one chunk
	FilesParsed     int64
	FilesFailed     int64
	PointsKept      int64
	PointsDiscarded int64 // outside the positive coordinate domain
	BatchesDropped  int64 // batches not merged because settings changed
}

func (s LoaderStats) String() string {
	return humanize.Comma(s.Loads) + " loads, " + humanize.Comma(s.FilesParsed) + " files parsed, " +
		humanize.Comma(s.FilesFailed) + " failed, " + humanize.Comma(s.PointsKept) + " points kept, " +
		humanize.Comma(s.PointsDiscarded) + " discarded"
}

type workItem struct {
	id   ooc.ChunkID
	file string
}

// Loader answers overlay point queries, loading chunks on demand.  Queries may be
// made concurrently; only one load runs at a time and a query waiting on it sees
// the chunks it loaded.
type Loader struct {
	mu         sync.RWMutex // guards addr; held for reading while merging
	addr       Addressing
	generation atomic.Uint64

	loadMu        sync.Mutex
	store         *ChunkPointStore
	pool          *Pool
	jobsPerWorker int

	loads, filesParsed, filesFailed      atomic.Int64
	pointsKept, pointsDiscarded, dropped atomic.Int64
}

// NewLoader returns a loader with default settings and no overlay path, so queries
// return nothing until SetSettings gives a path.
func NewLoader(opts LoaderOptions) *Loader {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	jobs := opts.JobsPerWorker
	if jobs <= 0 {
		jobs = DefaultJobsPerWorker
	}
	return &Loader{
		addr:          NewAddressing(DefaultSettings()),
		store:         NewChunkPointStore(),
		pool:          NewPool(workers),
		jobsPerWorker: jobs,
	}
}

// Close stops the worker pool.
func (l *Loader) Close() {
	l.pool.Close()
}

// SetSettings replaces the settings and always empties the store.  Loads still
// running under the old settings finish but their results are dropped.
func (l *Loader) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.addr = NewAddressing(s)
	l.generation.Add(1)
	l.store.Reset()
	l.mu.Unlock()
	ooc.Infof("Overlay settings now path %q, %s naming, axes x=%d y=%d z=%d, offset %d, scale %g, chunk %d\n",
		s.Path, s.Naming, s.XAxis, s.YAxis, s.ZAxis, s.Offset, s.Scale, s.ChunkSize)
	return nil
}

// Settings returns the current settings.
func (l *Loader) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addr.Settings
}

// Store returns the store of resident chunks.
func (l *Loader) Store() *ChunkPointStore {
	return l.store
}

// Stats returns cumulative counts.
func (l *Loader) Stats() LoaderStats {
	return LoaderStats{
		Loads:           l.loads.Load(),
		FilesParsed:     l.filesParsed.Load(),
		FilesFailed:     l.filesFailed.Load(),
		PointsKept:      l.pointsKept.Load(),
		PointsDiscarded: l.pointsDiscarded.Load(),
		BatchesDropped:  l.dropped.Load(),
	}
}

func (l *Loader) snapshot() (Addressing, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addr, l.generation.Load()
}

// Query returns the distinct points of slice zIndex within rect, sorted by x then y.
// Chunks needed by the query that are not resident are loaded first.  Unreadable
// files are skipped.  A query spanning more than MaxQueryChunks chunks is an
// ErrInvalidArgument.
func (l *Loader) Query(rect ooc.Rect, zIndex int) ([]ooc.Point2d, error) {
	addr, gen := l.snapshot()
	if addr.Path == "" {
		return nil, nil
	}
	if _, err := addr.queryRange(rect, zIndex); err != nil {
		return nil, err
	}
	ids := addr.DetermineChunks(rect, zIndex)
	if len(l.store.Missing(ids)) > 0 {
		l.load(addr, gen, ids)
	}

	pts := l.store.Points(ids, zIndex)
	kept := pts[:0]
	for _, p := range pts {
		if rect.Contains(p) {
			kept = append(kept, p)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Less(kept[j]) })
	var result []ooc.Point2d
	for i, p := range kept {
		if i == 0 || p != kept[i-1] {
			result = append(result, p)
		}
	}
	return result, nil
}

// load reads every non-resident chunk among ids in batches of pool size * jobs per
// worker, merging each batch's per-worker accumulators into the store.
func (l *Loader) load(addr Addressing, gen uint64, ids []ooc.ChunkID) {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()

	missing := l.store.Missing(ids)
	if len(missing) == 0 || l.generation.Load() != gen {
		return
	}
	timedLog := ooc.NewTimeLog()

	var items []workItem
	resolved := make([]ooc.ChunkID, 0, len(missing))
	for _, id := range missing {
		files, err := addr.ResolveFiles(id)
		if err != nil {
			ooc.Errorf("Skipping overlay chunk %s: %v\n", addr.ChunkName(id), err)
			continue
		}
		resolved = append(resolved, id)
		for _, f := range files {
			items = append(items, workItem{id: id, file: f})
		}
	}

	workers := l.pool.Size()
	batchSize := workers * l.jobsPerWorker
	for start := 0; start < len(items); start += batchSize {
		batch := items[start:min(start+batchSize, len(items))]
		accs := make([]ChunkPoints, workers)
		var tasks []task
		for j := 0; j < len(batch); j += l.jobsPerWorker {
			job := batch[j:min(j+l.jobsPerWorker, len(batch))]
			tasks = append(tasks, func(worker int) {
				for _, item := range job {
					if l.generation.Load() != gen {
						return
					}
					if accs[worker] == nil {
						accs[worker] = make(ChunkPoints)
					}
					l.loadFile(addr, item, accs[worker])
				}
			})
		}
		l.pool.Run(tasks)
		if !l.merge(gen, accs) {
			l.dropped.Add(1)
			ooc.Infof("Dropped overlay load of %d chunks superseded by new settings\n", len(missing))
			return
		}
	}

	l.mu.RLock()
	if l.generation.Load() == gen {
		l.store.MarkResident(resolved)
	}
	l.mu.RUnlock()
	l.loads.Add(1)
	if ooc.LogMode() <= ooc.DebugMode {
		timedLog.Debugf("Loaded %d overlay chunks from %d files, store now %d chunks, %s",
			len(resolved), len(items), l.store.Len(), humanize.Bytes(uint64(l.store.MemSize())))
	}
}

// merge folds accumulators into the store unless the settings changed since gen.
func (l *Loader) merge(gen uint64, accs []ChunkPoints) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.generation.Load() != gen {
		return false
	}
	for _, acc := range accs {
		if len(acc) > 0 {
			l.store.Merge(acc)
		}
	}
	return true
}

// parseVertices is replaced in tests.
var parseVertices = meshio.ReadVertices

// readVertices parses a file, returning any parser panic as an error.
func readVertices(filename string) (verts []r3.Vec, err error) {
	defer func() {
		if r := recover(); r != nil {
			verts, err = nil, ooc.NewError("read vertices", filename, ooc.ErrInvalidArgument,
				fmt.Errorf("parser panic: %v", r))
		}
	}()
	return parseVertices(filename)
}

// loadFile parses one file into acc.  A raw point p becomes (p + Offset) * Scale and
// is kept only if its x, y and z are all non-negative.
func (l *Loader) loadFile(addr Addressing, item workItem, acc ChunkPoints) {
	verts, err := readVertices(item.file)
	if err != nil {
		l.filesFailed.Add(1)
		ooc.Errorf("Skipping overlay file %s: %v\n", item.file, err)
		return
	}
	l.filesParsed.Add(1)
	offset, scale := float64(addr.Offset), addr.Scale
	var kept, discarded int64
	for _, v := range verts {
		p := [3]float64{(v.X + offset) * scale, (v.Y + offset) * scale, (v.Z + offset) * scale}
		x, y, z := p[addr.XAxis], p[addr.YAxis], p[addr.ZAxis]
		if x < 0 || y < 0 || z < 0 {
			discarded++
			continue
		}
		acc.add(item.id, int(math.Round(z)), ooc.Point2d{x, y})
		kept++
	}
	l.pointsKept.Add(kept)
	l.pointsDiscarded.Add(discarded)
}
