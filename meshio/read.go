/*
	Package meshio reads vertex positions from the point cloud and triangle mesh files
	found in overlay chunk folders.  Only vertex positions are returned; faces, normals,
	colors and other elements are skipped.

	Supported formats:

		.ply   Stanford polygon file, ascii, binary_little_endian or binary_big_endian
		.obj   Wavefront OBJ, "v" lines only
*/
package meshio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/janelia-flyem/ooc/ooc"
)

// ErrMalformed is returned for files that cannot be parsed.
var ErrMalformed = errors.New("malformed mesh file")

// ErrUnsupported is returned for file extensions with no reader.
var ErrUnsupported = errors.New("unsupported mesh file extension")

type reader func(io.Reader) ([]r3.Vec, error)

var readers = map[string]reader{
	".ply": ReadPLY,
	".obj": ReadOBJ,
}

// Extensions returns the supported file extensions, lower case with leading dot.
func Extensions() []string {
	return []string{".ply", ".obj"}
}

// Supported returns true if the file name has a readable extension.
func Supported(filename string) bool {
	_, found := readers[strings.ToLower(filepath.Ext(filename))]
	return found
}

// ReadVertices returns all vertex positions in the given file.
func ReadVertices(filename string) ([]r3.Vec, error) {
	read, found := readers[strings.ToLower(filepath.Ext(filename))]
	if !found {
		return nil, ooc.NewError("read vertices", filename, ooc.ErrInvalidArgument, ErrUnsupported)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, ooc.IOError("read vertices", filename, err)
	}
	defer f.Close()

	verts, err := read(bufio.NewReaderSize(f, 64*ooc.Kilo))
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			return nil, ooc.NewError("read vertices", filename, ooc.ErrInvalidArgument, err)
		}
		return nil, ooc.IOError("read vertices", filename, err)
	}
	return verts, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
