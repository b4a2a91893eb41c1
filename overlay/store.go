package overlay

import (
	"sync"

	"github.com/DmitriyVTitov/size"

	"github.com/janelia-flyem/ooc/ooc"
)

// SlicePoints maps a z slice to the 2d points of that slice.
type SlicePoints map[int][]ooc.Point2d

// ChunkPoints maps chunk ids to their per-slice points.  It is the shape of both the
// store and the per-worker accumulators.
type ChunkPoints map[ooc.ChunkID]SlicePoints

// add appends p to the list for z of chunk id.
func (c ChunkPoints) add(id ooc.ChunkID, z int, p ooc.Point2d) {
	slices, found := c[id]
	if !found {
		slices = make(SlicePoints)
		c[id] = slices
	}
	slices[z] = append(slices[z], p)
}

// ChunkPointStore holds the points of every resident chunk.  A chunk id present as a
// key is resident, even with no points, and is never loaded again until Reset.
// Between resets the store only grows.
type ChunkPointStore struct {
	mu        sync.RWMutex
	chunks    ChunkPoints
	numPoints int
}

// NewChunkPointStore returns an empty store.
func NewChunkPointStore() *ChunkPointStore {
	return &ChunkPointStore{chunks: make(ChunkPoints)}
}

// Has returns true if the chunk is resident.
func (s *ChunkPointStore) Has(id ooc.ChunkID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.chunks[id]
	return found
}

// Missing returns the ids that are not resident, in the given order.
func (s *ChunkPointStore) Missing(ids []ooc.ChunkID) []ooc.ChunkID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var missing []ooc.ChunkID
	for _, id := range ids {
		if _, found := s.chunks[id]; !found {
			missing = append(missing, id)
		}
	}
	return missing
}

// Merge folds an accumulator into the store.  New chunks are inserted and the
// per-slice lists of resident chunks are extended.
func (s *ChunkPointStore) Merge(acc ChunkPoints) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, slices := range acc {
		existing, found := s.chunks[id]
		if !found {
			existing = make(SlicePoints, len(slices))
			s.chunks[id] = existing
		}
		for z, pts := range slices {
			existing[z] = append(existing[z], pts...)
			s.numPoints += len(pts)
		}
	}
}

// MarkResident records chunks as loaded whether or not any points were merged for them.
func (s *ChunkPointStore) MarkResident(ids []ooc.ChunkID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, found := s.chunks[id]; !found {
			s.chunks[id] = make(SlicePoints)
		}
	}
}

// Points returns a new slice holding the z slice points of the given chunks.
func (s *ChunkPointStore) Points(ids []ooc.ChunkID, z int) []ooc.Point2d {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pts []ooc.Point2d
	for _, id := range ids {
		if slices, found := s.chunks[id]; found {
			pts = append(pts, slices[z]...)
		}
	}
	return pts
}

// Len returns the number of resident chunks.
func (s *ChunkPointStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// NumPoints returns the number of points held.
func (s *ChunkPointStore) NumPoints() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numPoints
}

// Reset empties the store.
func (s *ChunkPointStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(ChunkPoints)
	s.numPoints = 0
}

// MemSize returns the approximate memory held by the store in bytes.
func (s *ChunkPointStore) MemSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return size.Of(s.chunks)
}
