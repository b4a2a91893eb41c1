package meshio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// WritePLY writes vertices as a PLY point cloud with double precision x, y, z properties.
func WritePLY(w io.Writer, verts []r3.Vec, format Format) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat %s 1.0\n", format)
	fmt.Fprintf(bw, "element vertex %d\n", len(verts))
	fmt.Fprintf(bw, "property double x\nproperty double y\nproperty double z\nend_header\n")
	switch format {
	case ASCII:
		for _, v := range verts {
			fmt.Fprintf(bw, "%g %g %g\n", v.X, v.Y, v.Z)
		}
	case BinaryLittleEndian, BinaryBigEndian:
		var order binary.ByteOrder = binary.LittleEndian
		if format == BinaryBigEndian {
			order = binary.BigEndian
		}
		buf := make([]byte, 24)
		for _, v := range verts {
			order.PutUint64(buf[0:8], math.Float64bits(v.X))
			order.PutUint64(buf[8:16], math.Float64bits(v.Y))
			order.PutUint64(buf[16:24], math.Float64bits(v.Z))
			if _, err := bw.Write(buf); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("cannot write ply format %s", format)
	}
	return bw.Flush()
}

// WriteOBJ writes vertices as Wavefront "v" lines.
func WriteOBJ(w io.Writer, verts []r3.Vec) error {
	bw := bufio.NewWriter(w)
	for _, v := range verts {
		if _, err := fmt.Fprintf(bw, "v %g %g %g\n", v.X, v.Y, v.Z); err != nil {
			return err
		}
	}
	return bw.Flush()
}
