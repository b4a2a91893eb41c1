package overlay

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/janelia-flyem/ooc/meshio"
	"github.com/janelia-flyem/ooc/ooc"
)

// raw returns the raw vertex that the default settings transform to (x, y, z).
func raw(x, y, z float64) r3.Vec {
	s := DefaultSettings()
	var p [3]float64
	p[s.XAxis], p[s.YAxis], p[s.ZAxis] = x, y, z
	inv := func(v float64) float64 { return v/s.Scale - float64(s.Offset) }
	return r3.Vec{X: inv(p[0]), Y: inv(p[1]), Z: inv(p[2])}
}

func writeChunkFile(t *testing.T, dir, folder, name string, verts ...r3.Vec) {
	t.Helper()
	path := filepath.Join(dir, folder)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(filepath.Join(path, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if filepath.Ext(name) == ".obj" {
		err = meshio.WriteOBJ(f, verts)
	} else {
		err = meshio.WritePLY(f, verts, meshio.BinaryLittleEndian)
	}
	if err != nil {
		t.Fatal(err)
	}
}

func newTestLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	l := NewLoader(LoaderOptions{Workers: 2, JobsPerWorker: 1})
	t.Cleanup(l.Close)
	s := DefaultSettings()
	s.Path = dir
	if err := l.SetSettings(s); err != nil {
		t.Fatal(err)
	}
	return l
}

func checkPoints(t *testing.T, got []ooc.Point2d, expected ...ooc.Point2d) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v\n", expected, got)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Errorf("point %d: expected %s, got %s\n", i, expected[i], got[i])
		}
	}
}

func TestQuerySinglePoint(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "000100_000075_000100", "mesh.ply", r3.Vec{X: 150.5, Y: 145, Z: 152.5})
	l := newTestLoader(t, dir)

	pts, err := l.Query(ooc.NewRect(90, 90, 130, 130), 80)
	if err != nil {
		t.Fatalf("query failed: %v\n", err)
	}
	checkPoints(t, pts, ooc.Point2d{110, 102})
}

func TestQueryFilterAndDedup(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "000100_000075_000100", "a.ply",
		raw(110, 102, 80),
		raw(120, 95, 80),
	)
	writeChunkFile(t, dir, "000100_000075_000125", "b.obj",
		raw(110, 102, 80), // duplicate from a neighboring chunk
		raw(130, 100, 80), // on the exclusive max edge
		raw(140, 100, 80), // right of the rectangle
		raw(100, 100, 81), // next slice
		r3.Vec{},          // negative after transform
	)
	writeChunkFile(t, dir, "000075_000075_000075", "bad.ply")
	os.WriteFile(filepath.Join(dir, "000075_000075_000075", "bad.ply"), []byte("ply\ngarbage\n"), 0644)

	l := newTestLoader(t, dir)
	rect := ooc.NewRect(90, 90, 130, 130)
	pts, err := l.Query(rect, 80)
	if err != nil {
		t.Fatalf("query failed: %v\n", err)
	}
	checkPoints(t, pts, ooc.Point2d{110, 102}, ooc.Point2d{120, 95})
	for _, p := range pts {
		if !rect.Contains(p) {
			t.Errorf("point %s outside query rectangle\n", p)
		}
	}

	stats := l.Stats()
	if stats.FilesParsed != 2 || stats.FilesFailed != 1 || stats.PointsDiscarded != 1 || stats.PointsKept != 6 {
		t.Errorf("unexpected stats %+v\n", stats)
	}
	pts, _ = l.Query(rect, 81)
	checkPoints(t, pts, ooc.Point2d{100, 100})
}

func TestQueryHugeVertexCount(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "000100_000075_000100", "good.ply", raw(110, 102, 80))
	header := "ply\nformat ascii 1.0\nelement vertex 99999999999999\n" +
		"property float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n"
	if err := os.WriteFile(filepath.Join(dir, "000100_000075_000100", "huge.ply"), []byte(header), 0644); err != nil {
		t.Fatal(err)
	}
	l := newTestLoader(t, dir)
	pts, err := l.Query(ooc.NewRect(90, 90, 130, 130), 80)
	if err != nil {
		t.Fatalf("query failed: %v\n", err)
	}
	checkPoints(t, pts, ooc.Point2d{110, 102})
	if stats := l.Stats(); stats.FilesParsed != 1 || stats.FilesFailed != 1 {
		t.Errorf("expected 1 file parsed and 1 failed, got %+v\n", stats)
	}
}

func TestQueryParserPanic(t *testing.T) {
	saved := parseVertices
	defer func() { parseVertices = saved }()
	parseVertices = func(filename string) ([]r3.Vec, error) {
		if filepath.Base(filename) == "boom.ply" {
			panic("corrupt file")
		}
		return saved(filename)
	}

	dir := t.TempDir()
	writeChunkFile(t, dir, "000100_000075_000100", "good.ply", raw(110, 102, 80))
	writeChunkFile(t, dir, "000100_000075_000100", "boom.ply", raw(120, 95, 80))
	l := newTestLoader(t, dir)
	pts, err := l.Query(ooc.NewRect(90, 90, 130, 130), 80)
	if err != nil {
		t.Fatalf("query failed: %v\n", err)
	}
	checkPoints(t, pts, ooc.Point2d{110, 102})
	if stats := l.Stats(); stats.FilesFailed != 1 {
		t.Errorf("expected the panicking file counted as failed, got %+v\n", stats)
	}
}

func TestQueryIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "000100_000075_000100", "mesh.ply", raw(110, 102, 80))
	l := newTestLoader(t, dir)
	rect := ooc.NewRect(90, 90, 130, 130)

	first, err := l.Query(rect, 80)
	if err != nil {
		t.Fatal(err)
	}
	before := l.Stats()
	if before.Loads != 1 || l.Store().Len() != 18 {
		t.Fatalf("expected one load of 18 chunks, got %+v, %d chunks\n", before, l.Store().Len())
	}
	second, err := l.Query(rect, 80)
	if err != nil {
		t.Fatal(err)
	}
	if after := l.Stats(); after != before {
		t.Errorf("second query loaded again: before %+v, after %+v\n", before, after)
	}
	checkPoints(t, second, first...)
}

func TestQueryConcurrent(t *testing.T) {
	dir := t.TempDir()
	for i, folder := range []string{"000100_000075_000100", "000100_000100_000100", "000125_000075_000075"} {
		writeChunkFile(t, dir, folder, "mesh.ply", raw(100+float64(i), 110, 80))
	}
	l := newTestLoader(t, dir)
	rect := ooc.NewRect(90, 90, 130, 130)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Query(rect, 80); err != nil {
				t.Errorf("query: %v\n", err)
			}
		}()
	}
	wg.Wait()
	if parsed := l.Stats().FilesParsed; parsed != 3 {
		t.Errorf("expected each file parsed once, got %d parses\n", parsed)
	}
	pts, _ := l.Query(rect, 80)
	checkPoints(t, pts, ooc.Point2d{100, 110}, ooc.Point2d{101, 110}, ooc.Point2d{102, 110})
}

func TestQueryEmptyPath(t *testing.T) {
	l := NewLoader(LoaderOptions{})
	defer l.Close()
	pts, err := l.Query(ooc.NewRect(0, 0, 1000, 1000), 80)
	if err != nil || pts != nil {
		t.Errorf("expected nothing without a path, got %v, %v\n", pts, err)
	}
	if l.Store().Len() != 0 {
		t.Errorf("expected no chunks touched\n")
	}
}

func TestQueryTooLarge(t *testing.T) {
	l := newTestLoader(t, t.TempDir())
	pts, err := l.Query(ooc.NewRect(0, 0, 1e9, 1e9), 80)
	if !errors.Is(err, ooc.ErrInvalidArgument) || pts != nil {
		t.Errorf("expected ErrInvalidArgument for oversized query, got %v, %v\n", pts, err)
	}
	if l.Store().Len() != 0 {
		t.Errorf("oversized query should not mark chunks resident\n")
	}
}

func TestSetSettingsResets(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "000100_000075_000100", "mesh.ply", raw(110, 102, 80))
	l := newTestLoader(t, dir)
	rect := ooc.NewRect(90, 90, 130, 130)
	if _, err := l.Query(rect, 80); err != nil {
		t.Fatal(err)
	}
	if l.Store().Len() == 0 {
		t.Fatalf("expected resident chunks\n")
	}
	s := l.Settings()
	if err := l.SetSettings(s); err != nil {
		t.Fatal(err)
	}
	if l.Store().Len() != 0 {
		t.Errorf("expected store reset on settings change, %d chunks left\n", l.Store().Len())
	}
	pts, _ := l.Query(rect, 80)
	checkPoints(t, pts, ooc.Point2d{110, 102})
	if loads := l.Stats().Loads; loads != 2 {
		t.Errorf("expected reload after settings change, got %d loads\n", loads)
	}

	s.Scale = 0
	if err := l.SetSettings(s); !errors.Is(err, ooc.ErrInvalidArgument) {
		t.Errorf("expected invalid settings rejected, got %v\n", err)
	}
	if l.Settings().Scale != 4 {
		t.Errorf("rejected settings should not be applied\n")
	}
}

func TestStaleBatchDropped(t *testing.T) {
	dir := t.TempDir()
	writeChunkFile(t, dir, "000100_000075_000100", "mesh.ply", raw(110, 102, 80))
	l := newTestLoader(t, dir)
	addr, gen := l.snapshot()
	ids := addr.DetermineChunks(ooc.NewRect(90, 90, 130, 130), 80)

	// settings change between snapshot and load
	if err := l.SetSettings(addr.Settings); err != nil {
		t.Fatal(err)
	}
	l.load(addr, gen, ids)
	if l.Store().Len() != 0 {
		t.Errorf("load under stale settings should not reach the store\n")
	}

	acc := make(ChunkPoints)
	acc.add(ids[0], 80, ooc.Point2d{1, 1})
	if l.merge(gen, []ChunkPoints{acc}) {
		t.Errorf("stale batch should not merge\n")
	}
	if !l.merge(gen+1, []ChunkPoints{acc}) || l.Store().NumPoints() != 1 {
		t.Errorf("current batch should merge\n")
	}
}

func TestQueryCells(t *testing.T) {
	dir := t.TempDir()
	s := cellSettings(dir)
	f, err := os.Create(filepath.Join(dir, "cell_yxz_001_002_003.obj"))
	if err != nil {
		t.Fatal(err)
	}
	meshio.WriteOBJ(f, []r3.Vec{{X: 21, Y: 16, Z: 33.4}, {X: 21, Y: 16, Z: 34.6}})
	f.Close()

	l := NewLoader(LoaderOptions{Workers: 1})
	defer l.Close()
	if err := l.SetSettings(s); err != nil {
		t.Fatal(err)
	}
	pts, err := l.Query(ooc.NewRect(5, 15, 25, 18), 33)
	if err != nil {
		t.Fatal(err)
	}
	checkPoints(t, pts, ooc.Point2d{21, 16})
}

func TestLoadSettings(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadSettings(dir)
	if err != nil {
		t.Fatal(err)
	}
	expected := DefaultSettings()
	expected.Path = dir
	if s != expected {
		t.Errorf("expected defaults, got %+v\n", s)
	}
	yml := "naming: cells\nx_axis: 0\ny_axis: 1\nz_axis: 2\noffset: 3\nscale: 2.5\nchunk_size: 10\n"
	os.WriteFile(filepath.Join(dir, SettingsFilename), []byte(yml), 0644)
	s, err = LoadSettings(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s.Naming != NamingCells || s.XAxis != 0 || s.Offset != 3 || s.Scale != 2.5 || s.ChunkSize != 10 || s.Path != dir {
		t.Errorf("bad settings from yaml: %+v\n", s)
	}
	os.WriteFile(filepath.Join(dir, SettingsFilename), []byte("naming: hex\n"), 0644)
	if _, err := LoadSettings(dir); err == nil {
		t.Errorf("expected error for unknown naming\n")
	}
}
