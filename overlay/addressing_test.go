package overlay

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/ooc/ooc"
)

func logicalXYZ(a Addressing, id ooc.ChunkID) (int32, int32, int32) {
	return id[a.XAxis], id[a.YAxis], id[a.ZAxis]
}

func TestDetermineChunksLayers(t *testing.T) {
	s := DefaultSettings()
	s.Path = "/overlay"
	a := NewAddressing(s)

	ids := a.DetermineChunks(ooc.NewRect(90, 90, 130, 130), 80)
	if len(ids) != 3*3*2 {
		t.Fatalf("expected 18 chunks, got %d: %v\n", len(ids), ids)
	}
	xs, ys, zs := map[int32]bool{}, map[int32]bool{}, map[int32]bool{}
	for _, id := range ids {
		x, y, z := logicalXYZ(a, id)
		xs[x], ys[y], zs[z] = true, true, true
	}
	for _, v := range []int32{75, 100, 125} {
		if !xs[v] || !ys[v] {
			t.Errorf("expected x and y chunk %d, got x %v y %v\n", v, xs, ys)
		}
	}
	if len(zs) != 2 || !zs[75] || !zs[100] {
		t.Errorf("expected z chunks 75 and 100, got %v\n", zs)
	}
	found := false
	for _, id := range ids {
		if a.ChunkName(id) == "000100_000075_000100" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected folder 000100_000075_000100 among needed chunks\n")
	}
}

func TestDetermineChunksStartShift(t *testing.T) {
	s := DefaultSettings()
	s.Path = "/overlay"
	s.Offset = 0
	a := NewAddressing(s)

	// naive floor of x=300 is chunk 50; the start is shifted one chunk down
	ids := a.DetermineChunks(ooc.NewRect(300, 300, 301, 301), 400)
	minX, maxX := int32(1<<30), int32(-1<<30)
	for _, id := range ids {
		x, _, _ := logicalXYZ(a, id)
		minX, maxX = min(minX, x), max(maxX, x)
	}
	if minX != 25 || maxX != 50 {
		t.Errorf("expected x chunks 25..50, got %d..%d\n", minX, maxX)
	}

	// starts never go below the first layer folder
	ids = a.DetermineChunks(ooc.NewRect(0, 0, 10, 10), 0)
	for _, id := range ids {
		if x, y, z := logicalXYZ(a, id); x < -50 || y < -50 || z < -50 {
			t.Errorf("chunk %s below minimum layer\n", id)
		}
	}
}

func TestDetermineChunksEmptyPath(t *testing.T) {
	a := NewAddressing(DefaultSettings())
	if ids := a.DetermineChunks(ooc.NewRect(0, 0, 1000, 1000), 10); len(ids) != 0 {
		t.Errorf("expected no chunks without a path, got %d\n", len(ids))
	}
}

func TestDetermineChunksLimits(t *testing.T) {
	s := DefaultSettings()
	s.Path = t.TempDir()
	layers := NewAddressing(s)
	for name, rect := range map[string]ooc.Rect{
		"huge": ooc.NewRect(0, 0, 1e12, 1e12),
		"wide": ooc.NewRect(0, 0, 1e9, 100),
		"nan":  {Min: ooc.Point2d{math.NaN(), 0}, Max: ooc.Point2d{100, 100}},
		"inf":  ooc.NewRect(0, 0, math.Inf(1), 100),
	} {
		if ids := layers.DetermineChunks(rect, 80); ids != nil {
			t.Errorf("%s: expected no chunks, got %d\n", name, len(ids))
		}
		if _, err := layers.queryRange(rect, 80); !errors.Is(err, ooc.ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v\n", name, err)
		}
	}

	cells := NewAddressing(cellSettings(t.TempDir()))
	if ids := cells.DetermineChunks(ooc.NewRect(0, 0, 2550, 2550), 5); len(ids) != MaxQueryChunks {
		t.Errorf("expected %d chunks at the limit, got %d\n", MaxQueryChunks, len(ids))
	}
	if ids := cells.DetermineChunks(ooc.NewRect(0, 0, 2560, 2550), 5); ids != nil {
		t.Errorf("expected no chunks past the limit, got %d\n", len(ids))
	}
}

func cellSettings(path string) Settings {
	return Settings{
		Path:      path,
		Naming:    NamingCells,
		XAxis:     0,
		YAxis:     1,
		ZAxis:     2,
		Scale:     1,
		ChunkSize: 10,
	}
}

func TestDetermineChunksCells(t *testing.T) {
	a := NewAddressing(cellSettings("/overlay"))
	ids := a.DetermineChunks(ooc.NewRect(5, 15, 25, 18), 33)
	expected := []ooc.ChunkID{{0, 1, 3}, {1, 1, 3}, {2, 1, 3}}
	if len(ids) != len(expected) {
		t.Fatalf("expected %v, got %v\n", expected, ids)
	}
	for i := range ids {
		if ids[i] != expected[i] {
			t.Errorf("chunk %d: expected %s, got %s\n", i, expected[i], ids[i])
		}
	}
	if name := a.ChunkName(ooc.ChunkID{2, 1, 3}); name != "cell_yxz_001_002_003" {
		t.Errorf("bad cell name %q\n", name)
	}
}

func TestChunkNameAxes(t *testing.T) {
	s := DefaultSettings()
	a := NewAddressing(s)
	var id ooc.ChunkID
	id[s.XAxis], id[s.YAxis], id[s.ZAxis] = 125, 100, 75
	if name := a.ChunkName(id); name != "000100_000075_000125" {
		t.Errorf("bad layer name %q\n", name)
	}
}

func TestResolveFiles(t *testing.T) {
	dir := t.TempDir()
	s := DefaultSettings()
	s.Path = dir
	a := NewAddressing(s)

	var id ooc.ChunkID
	id[s.XAxis], id[s.YAxis], id[s.ZAxis] = 100, 100, 75
	if files, err := a.ResolveFiles(id); err != nil || len(files) != 0 {
		t.Errorf("expected no files for missing folder, got %v, %v\n", files, err)
	}

	folder := filepath.Join(dir, a.ChunkName(id))
	os.MkdirAll(filepath.Join(folder, "sub.ply"), 0755)
	for _, name := range []string{"b.obj", "a.ply", "notes.txt", "c.PLY"} {
		os.WriteFile(filepath.Join(folder, name), nil, 0644)
	}
	files, err := a.ResolveFiles(id)
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"a.ply", "b.obj", "c.PLY"}
	if len(files) != len(expected) {
		t.Fatalf("expected %v, got %v\n", expected, files)
	}
	for i, f := range files {
		if f != filepath.Join(folder, expected[i]) {
			t.Errorf("file %d: expected %s, got %s\n", i, expected[i], f)
		}
	}

	cells := NewAddressing(cellSettings(dir))
	cid := ooc.ChunkID{2, 1, 3}
	if files, err := cells.ResolveFiles(cid); err != nil || len(files) != 0 {
		t.Errorf("expected no files for missing cell, got %v, %v\n", files, err)
	}
	os.WriteFile(filepath.Join(dir, "cell_yxz_001_002_003.obj"), nil, 0644)
	files, err = cells.ResolveFiles(cid)
	if err != nil || len(files) != 1 || filepath.Base(files[0]) != "cell_yxz_001_002_003.obj" {
		t.Errorf("expected cell obj file, got %v, %v\n", files, err)
	}
}
