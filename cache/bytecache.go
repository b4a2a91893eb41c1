package cache

import (
	"errors"
	"sync/atomic"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"

	"github.com/janelia-flyem/ooc/ooc"
)

// ByteCache is a byte-budgeted cache whose values are stored snappy-compressed.
// A ByteCache created with a zero budget is disabled: Get always misses and Set is a no-op.
// A compressed value larger than MaxEntrySize is not cached and counts as skipped.
type ByteCache struct {
	fc      *freecache.Cache
	budget  int
	skipped atomic.Int64 // values too large or failing to store
}

// ByteCacheStats reports ByteCache usage.
type ByteCacheStats struct {
	Entries   int64
	Hits      int64
	Misses    int64
	Evictions int64
	Skipped   int64
	Budget    int
}

// NewByteCache returns a ByteCache holding up to numBytes of compressed data.
func NewByteCache(numBytes int) *ByteCache {
	bc := &ByteCache{budget: numBytes}
	if numBytes > 0 {
		bc.fc = freecache.NewCache(numBytes)
		ooc.Infof("Created chunk byte cache of %s, largest cacheable entry %s.\n",
			humanize.Bytes(uint64(numBytes)), humanize.Bytes(uint64(bc.MaxEntrySize())))
	}
	return bc
}

// Enabled returns true if the cache has a non-zero budget.
func (bc *ByteCache) Enabled() bool {
	return bc != nil && bc.fc != nil
}

// freecache splits its budget, at least 512 KiB, into 256 segments and rejects a key
// and value longer than a quarter of a segment less a 24 byte header.
const (
	minCacheSize     = 512 * 1024
	segmentsPerCache = 256
	entryHeaderSize  = 24
)

// MaxEntrySize returns the largest compressed value plus key, in bytes, that can be
// stored.  It is zero for a disabled cache.
func (bc *ByteCache) MaxEntrySize() int {
	if !bc.Enabled() {
		return 0
	}
	return max(bc.budget, minCacheSize)/segmentsPerCache/4 - entryHeaderSize
}

// Get returns the uncompressed value for key.
func (bc *ByteCache) Get(key string) ([]byte, bool) {
	if !bc.Enabled() {
		return nil, false
	}
	compressed, err := bc.fc.Get([]byte(key))
	if err != nil {
		if !errors.Is(err, freecache.ErrNotFound) {
			ooc.Errorf("byte cache get %q: %v\n", key, err)
		}
		return nil, false
	}
	value, err := snappy.Decode(nil, compressed)
	if err != nil {
		ooc.Errorf("byte cache entry %q is corrupt, dropping: %v\n", key, err)
		bc.fc.Del([]byte(key))
		return nil, false
	}
	return value, true
}

// Set stores a compressed copy of value under key.
func (bc *ByteCache) Set(key string, value []byte) {
	if !bc.Enabled() {
		return
	}
	compressed := snappy.Encode(nil, value)
	if err := bc.fc.Set([]byte(key), compressed, 0); err != nil {
		bc.skipped.Add(1)
		ooc.Debugf("byte cache skipped %q (%s compressed): %v\n", key, humanize.Bytes(uint64(len(compressed))), err)
	}
}

// Del removes key from the cache.
func (bc *ByteCache) Del(key string) {
	if bc.Enabled() {
		bc.fc.Del([]byte(key))
	}
}

// Clear removes all entries.
func (bc *ByteCache) Clear() {
	if bc.Enabled() {
		bc.fc.Clear()
	}
}

// Stats returns current usage counts.
func (bc *ByteCache) Stats() ByteCacheStats {
	if !bc.Enabled() {
		return ByteCacheStats{}
	}
	return ByteCacheStats{
		Entries:   bc.fc.EntryCount(),
		Hits:      bc.fc.HitCount(),
		Misses:    bc.fc.MissCount(),
		Evictions: bc.fc.EvacuateCount(),
		Skipped:   bc.skipped.Load(),
		Budget:    bc.budget,
	}
}

func (s ByteCacheStats) String() string {
	return humanize.Comma(s.Entries) + " entries, " + humanize.Comma(s.Hits) + " hits, " +
		humanize.Comma(s.Misses) + " misses, " + humanize.Comma(s.Skipped) + " skipped, budget " +
		humanize.Bytes(uint64(s.Budget))
}
