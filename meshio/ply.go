package meshio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Format is a PLY body encoding.
type Format uint8

const (
	ASCII Format = iota
	BinaryLittleEndian
	BinaryBigEndian
)

func (f Format) String() string {
	switch f {
	case ASCII:
		return "ascii"
	case BinaryLittleEndian:
		return "binary_little_endian"
	case BinaryBigEndian:
		return "binary_big_endian"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

func parseFormat(s string) (Format, error) {
	switch s {
	case "ascii":
		return ASCII, nil
	case "binary_little_endian":
		return BinaryLittleEndian, nil
	case "binary_big_endian":
		return BinaryBigEndian, nil
	}
	return ASCII, malformed("unknown ply format %q", s)
}

// scalar types and their sizes in bytes.
type scalarType uint8

const (
	tInt8 scalarType = iota
	tUint8
	tInt16
	tUint16
	tInt32
	tUint32
	tFloat32
	tFloat64
)

var scalarTypes = map[string]scalarType{
	"char": tInt8, "int8": tInt8,
	"uchar": tUint8, "uint8": tUint8,
	"short": tInt16, "int16": tInt16,
	"ushort": tUint16, "uint16": tUint16,
	"int": tInt32, "int32": tInt32,
	"uint": tUint32, "uint32": tUint32,
	"float": tFloat32, "float32": tFloat32,
	"double": tFloat64, "float64": tFloat64,
}

func (t scalarType) size() int {
	switch t {
	case tInt8, tUint8:
		return 1
	case tInt16, tUint16:
		return 2
	case tInt32, tUint32, tFloat32:
		return 4
	default:
		return 8
	}
}

func (t scalarType) decode(b []byte, order binary.ByteOrder) float64 {
	switch t {
	case tInt8:
		return float64(int8(b[0]))
	case tUint8:
		return float64(b[0])
	case tInt16:
		return float64(int16(order.Uint16(b)))
	case tUint16:
		return float64(order.Uint16(b))
	case tInt32:
		return float64(int32(order.Uint32(b)))
	case tUint32:
		return float64(order.Uint32(b))
	case tFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	default:
		return math.Float64frombits(order.Uint64(b))
	}
}

type property struct {
	name      string
	typ       scalarType
	isList    bool
	countType scalarType
}

type element struct {
	name  string
	count int
	props []property
}

type plyHeader struct {
	format   Format
	elements []element
}

func readHeader(r *bufio.Reader) (*plyHeader, error) {
	magic, err := r.ReadString('\n')
	if err != nil {
		return nil, malformed("missing ply magic: %v", err)
	}
	if strings.TrimSpace(magic) != "ply" {
		return nil, malformed("bad ply magic %q", strings.TrimSpace(magic))
	}
	hdr := new(plyHeader)
	haveFormat := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, malformed("ply header ended early: %v", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "end_header":
			if !haveFormat {
				return nil, malformed("ply header has no format line")
			}
			return hdr, nil
		case "comment", "obj_info":
		case "format":
			if len(fields) < 2 {
				return nil, malformed("bad ply format line %q", line)
			}
			if hdr.format, err = parseFormat(fields[1]); err != nil {
				return nil, err
			}
			haveFormat = true
		case "element":
			if len(fields) != 3 {
				return nil, malformed("bad ply element line %q", line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, malformed("bad ply element count %q", fields[2])
			}
			hdr.elements = append(hdr.elements, element{name: fields[1], count: count})
		case "property":
			if len(hdr.elements) == 0 {
				return nil, malformed("ply property before any element")
			}
			prop, err := parseProperty(fields)
			if err != nil {
				return nil, err
			}
			e := &hdr.elements[len(hdr.elements)-1]
			e.props = append(e.props, prop)
		default:
			return nil, malformed("unknown ply header keyword %q", fields[0])
		}
	}
}

func parseProperty(fields []string) (property, error) {
	if len(fields) == 5 && fields[1] == "list" {
		ct, ok1 := scalarTypes[fields[2]]
		it, ok2 := scalarTypes[fields[3]]
		if !ok1 || !ok2 {
			return property{}, malformed("bad ply list property types %q %q", fields[2], fields[3])
		}
		return property{name: fields[4], typ: it, isList: true, countType: ct}, nil
	}
	if len(fields) != 3 {
		return property{}, malformed("bad ply property line %q", strings.Join(fields, " "))
	}
	t, found := scalarTypes[fields[1]]
	if !found {
		return property{}, malformed("unknown ply property type %q", fields[1])
	}
	return property{name: fields[2], typ: t}, nil
}

// ReadPLY returns the x, y, z properties of the "vertex" element of a PLY stream.
// Elements after the vertex element are not read.
func ReadPLY(r io.Reader) ([]r3.Vec, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	hdr, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if hdr.format == BinaryBigEndian {
		order = binary.BigEndian
	}
	for _, e := range hdr.elements {
		if e.name != "vertex" {
			if err := skipElement(br, hdr.format, order, e); err != nil {
				return nil, err
			}
			continue
		}
		xyz := [3]int{-1, -1, -1}
		for i, p := range e.props {
			switch p.name {
			case "x":
				xyz[0] = i
			case "y":
				xyz[1] = i
			case "z":
				xyz[2] = i
			}
		}
		for _, i := range xyz {
			if i < 0 || e.props[i].isList {
				return nil, malformed("ply vertex element lacks scalar x, y and z")
			}
		}
		if hdr.format == ASCII {
			return readASCIIVertices(br, e, xyz)
		}
		return readBinaryVertices(br, order, e, xyz)
	}
	return nil, nil
}

// maxPrealloc bounds the vertices allocated up front from an untrusted header count.
const maxPrealloc = 1 << 16

func readASCIIVertices(r *bufio.Reader, e element, xyz [3]int) ([]r3.Vec, error) {
	verts := make([]r3.Vec, 0, min(e.count, maxPrealloc))
	values := make([]float64, len(e.props))
	for n := 0; n < e.count; n++ {
		fields, err := asciiRow(r)
		if err != nil {
			return nil, malformed("ply vertex %d: %v", n, err)
		}
		pos := 0
		for i, p := range e.props {
			if pos >= len(fields) {
				return nil, malformed("ply vertex %d: too few values", n)
			}
			if p.isList {
				count, err := strconv.Atoi(fields[pos])
				if err != nil || count < 0 {
					return nil, malformed("ply vertex %d: bad list count %q", n, fields[pos])
				}
				pos += 1 + count
				continue
			}
			v, err := strconv.ParseFloat(fields[pos], 64)
			if err != nil {
				return nil, malformed("ply vertex %d: %v", n, err)
			}
			values[i] = v
			pos++
		}
		verts = append(verts, r3.Vec{X: values[xyz[0]], Y: values[xyz[1]], Z: values[xyz[2]]})
	}
	return verts, nil
}

// asciiRow returns the fields of the next non-blank line.
func asciiRow(r *bufio.Reader) ([]string, error) {
	for {
		line, err := r.ReadString('\n')
		fields := strings.Fields(line)
		if len(fields) > 0 {
			return fields, nil
		}
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func readBinaryVertices(r *bufio.Reader, order binary.ByteOrder, e element, xyz [3]int) ([]r3.Vec, error) {
	verts := make([]r3.Vec, 0, min(e.count, maxPrealloc))
	values := make([]float64, len(e.props))
	buf := make([]byte, 8)
	for n := 0; n < e.count; n++ {
		for i, p := range e.props {
			if p.isList {
				if err := skipBinaryList(r, order, p, buf); err != nil {
					return nil, malformed("ply vertex %d: %v", n, err)
				}
				continue
			}
			sz := p.typ.size()
			if _, err := io.ReadFull(r, buf[:sz]); err != nil {
				return nil, malformed("ply vertex %d: %v", n, err)
			}
			values[i] = p.typ.decode(buf[:sz], order)
		}
		verts = append(verts, r3.Vec{X: values[xyz[0]], Y: values[xyz[1]], Z: values[xyz[2]]})
	}
	return verts, nil
}

func skipBinaryList(r *bufio.Reader, order binary.ByteOrder, p property, buf []byte) error {
	csz := p.countType.size()
	if _, err := io.ReadFull(r, buf[:csz]); err != nil {
		return err
	}
	count := p.countType.decode(buf[:csz], order)
	if count < 0 {
		return fmt.Errorf("negative list count %g", count)
	}
	_, err := r.Discard(int(count) * p.typ.size())
	return err
}

func skipElement(r *bufio.Reader, format Format, order binary.ByteOrder, e element) error {
	if format == ASCII {
		for n := 0; n < e.count; n++ {
			if _, err := asciiRow(r); err != nil {
				return malformed("ply element %s row %d: %v", e.name, n, err)
			}
		}
		return nil
	}
	buf := make([]byte, 8)
	for n := 0; n < e.count; n++ {
		for _, p := range e.props {
			var err error
			if p.isList {
				err = skipBinaryList(r, order, p, buf)
			} else {
				_, err = r.Discard(p.typ.size())
			}
			if err != nil {
				return malformed("ply element %s row %d: %v", e.name, n, err)
			}
		}
	}
	return nil
}
