package meshio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/janelia-flyem/ooc/ooc"
)

var testVerts = []r3.Vec{
	{X: 150.5, Y: 145, Z: 152.5},
	{X: -1, Y: 0, Z: 2.25},
	{X: 1e6, Y: 3.125, Z: -7},
}

func checkVerts(t *testing.T, got, expected []r3.Vec) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("expected %d vertices, got %d: %v\n", len(expected), len(got), got)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Errorf("vertex %d: expected %v, got %v\n", i, expected[i], got[i])
		}
	}
}

func TestPLYFormats(t *testing.T) {
	for _, format := range []Format{ASCII, BinaryLittleEndian, BinaryBigEndian} {
		var buf bytes.Buffer
		if err := WritePLY(&buf, testVerts, format); err != nil {
			t.Fatalf("%s: write failed: %v\n", format, err)
		}
		verts, err := ReadPLY(&buf)
		if err != nil {
			t.Fatalf("%s: read failed: %v\n", format, err)
		}
		checkVerts(t, verts, testVerts)
	}
}

func TestPLYMeshWithFaces(t *testing.T) {
	ascii := `ply
format ascii 1.0
comment made by hand
element vertex 3
property float nx
property float x
property float y
property float z
property uchar red
element face 1
property list uchar int vertex_indices
end_header
0.5 1 2 3 255
0 4 5 6 0

0 7.5 8 9 10
3 0 1 2
`
	verts, err := ReadPLY(strings.NewReader(ascii))
	if err != nil {
		t.Fatalf("read failed: %v\n", err)
	}
	checkVerts(t, verts, []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}, {X: 7.5, Y: 8, Z: 9}})
}

func TestPLYBinaryMixedTypes(t *testing.T) {
	// element before the vertices, with a list property, must be skipped.
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_big_endian 1.0\n")
	buf.WriteString("element material 1\nproperty list uchar short ids\n")
	buf.WriteString("element vertex 2\nproperty short x\nproperty uint y\nproperty float z\nproperty uchar flag\n")
	buf.WriteString("end_header\n")
	buf.Write([]byte{2, 0, 1, 0, 2})
	for _, v := range [][3]float64{{-3, 40000, 1.5}, {7, 1, -2}} {
		binary.Write(&buf, binary.BigEndian, int16(v[0]))
		binary.Write(&buf, binary.BigEndian, uint32(v[1]))
		binary.Write(&buf, binary.BigEndian, math.Float32bits(float32(v[2])))
		buf.WriteByte(1)
	}
	verts, err := ReadPLY(&buf)
	if err != nil {
		t.Fatalf("read failed: %v\n", err)
	}
	checkVerts(t, verts, []r3.Vec{{X: -3, Y: 40000, Z: 1.5}, {X: 7, Y: 1, Z: -2}})
}

func TestPLYMalformed(t *testing.T) {
	tests := map[string]string{
		"magic":     "plx\nformat ascii 1.0\nend_header\n",
		"format":    "ply\nformat utf8 1.0\nend_header\n",
		"noxyz":     "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nend_header\n1\n",
		"short":     "ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n",
		"value":     "ply\nformat ascii 1.0\nelement vertex 1\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 two 3\n",
		"truncated": "ply\nformat binary_little_endian 1.0\nelement vertex 1\nproperty double x\nproperty double y\nproperty double z\nend_header\n\x00\x00",
		"header":    "ply\nformat ascii 1.0\nelement vertex 1\n",
		"hugeascii": "ply\nformat ascii 1.0\nelement vertex 99999999999999\nproperty float x\nproperty float y\nproperty float z\nend_header\n1 2 3\n",
		"hugebin":   "ply\nformat binary_big_endian 1.0\nelement vertex 99999999999999\nproperty uchar x\nproperty uchar y\nproperty uchar z\nend_header\n\x01\x02\x03",
	}
	for name, data := range tests {
		if _, err := ReadPLY(strings.NewReader(data)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v\n", name, err)
		}
	}
}

func TestOBJ(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("# comment\nmtllib foo.mtl\nvn 0 0 1\nvt 0.5 0.5\n")
	if err := WriteOBJ(&buf, testVerts); err != nil {
		t.Fatalf("write failed: %v\n", err)
	}
	buf.WriteString("f 1 2 3\n")
	verts, err := ReadOBJ(&buf)
	if err != nil {
		t.Fatalf("read failed: %v\n", err)
	}
	checkVerts(t, verts, testVerts)

	if _, err := ReadOBJ(strings.NewReader("v 1 2\n")); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for short vertex, got %v\n", err)
	}
}

func TestReadVertices(t *testing.T) {
	dir := t.TempDir()
	plyPath := filepath.Join(dir, "mesh.PLY")
	f, err := os.Create(plyPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := WritePLY(f, testVerts, BinaryLittleEndian); err != nil {
		t.Fatal(err)
	}
	f.Close()

	verts, err := ReadVertices(plyPath)
	if err != nil {
		t.Fatalf("read failed: %v\n", err)
	}
	checkVerts(t, verts, testVerts)

	if !Supported("a.obj") || !Supported("b.Ply") || Supported("c.stl") {
		t.Errorf("bad extension support check\n")
	}
	if _, err := ReadVertices(filepath.Join(dir, "mesh.stl")); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected unsupported extension error, got %v\n", err)
	}
	if _, err := ReadVertices(filepath.Join(dir, "missing.obj")); !errors.Is(err, ooc.ErrNotFound) {
		t.Errorf("expected not found, got %v\n", err)
	}
	bad := filepath.Join(dir, "bad.ply")
	os.WriteFile(bad, []byte("garbage"), 0644)
	if _, err := ReadVertices(bad); !errors.Is(err, ErrMalformed) || !errors.Is(err, ooc.ErrInvalidArgument) {
		t.Errorf("expected malformed invalid argument, got %v\n", err)
	}
}
