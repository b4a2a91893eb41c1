package meshio

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// ReadOBJ returns the geometric vertices ("v x y z [w]") of a Wavefront OBJ stream.
func ReadOBJ(r io.Reader) ([]r3.Vec, error) {
	var verts []r3.Vec
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "v ") && !strings.HasPrefix(line, "v\t") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, malformed("obj line %d: vertex needs 3 coordinates", lineNum)
		}
		var coord [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, malformed("obj line %d: %v", lineNum, err)
			}
			coord[i] = v
		}
		verts = append(verts, r3.Vec{X: coord[0], Y: coord[1], Z: coord[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return verts, nil
}
