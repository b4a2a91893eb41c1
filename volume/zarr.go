package volume

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const (
	arrayMetaName = ".zarray"
	groupAttrName = ".zattrs"
)

type compressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level,omitempty"`
}

// arrayMeta is the .zarray description of one resolution level.
type arrayMeta struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	DType              string            `json:"dtype"`
	Compressor         *compressorMeta   `json:"compressor"`
	FillValue          json.RawMessage   `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`

	order    binary.ByteOrder
	itemSize int
	fill     uint16
}

func parseArrayMeta(data []byte) (*arrayMeta, error) {
	a := new(arrayMeta)
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	if a.ZarrFormat != 0 && a.ZarrFormat != 2 {
		return nil, fmt.Errorf("unsupported zarr_format %d", a.ZarrFormat)
	}
	if len(a.Shape) != 3 || len(a.Chunks) != 3 {
		return nil, fmt.Errorf("expected 3d array, got shape %v, chunks %v", a.Shape, a.Chunks)
	}
	for i := 0; i < 3; i++ {
		if a.Shape[i] < 0 || a.Chunks[i] <= 0 {
			return nil, fmt.Errorf("bad shape %v or chunks %v", a.Shape, a.Chunks)
		}
	}
	switch a.DType {
	case "|u1", "<u1", ">u1":
		a.itemSize, a.order = 1, binary.LittleEndian
	case "<u2":
		a.itemSize, a.order = 2, binary.LittleEndian
	case ">u2":
		a.itemSize, a.order = 2, binary.BigEndian
	default:
		return nil, fmt.Errorf("unsupported dtype %q", a.DType)
	}
	if a.Order != "" && a.Order != "C" {
		return nil, fmt.Errorf("unsupported order %q", a.Order)
	}
	if len(a.Filters) != 0 {
		return nil, fmt.Errorf("zarr filters are not supported")
	}
	switch a.DimensionSeparator {
	case "":
		a.DimensionSeparator = "."
	case ".", "/":
	default:
		return nil, fmt.Errorf("bad dimension_separator %q", a.DimensionSeparator)
	}
	if a.Compressor != nil {
		switch a.Compressor.ID {
		case "zlib", "gzip", "zstd":
		default:
			return nil, fmt.Errorf("unsupported compressor %q", a.Compressor.ID)
		}
	}
	fill, err := parseFillValue(a.FillValue)
	if err != nil {
		return nil, err
	}
	a.fill = fill
	return a, nil
}

// parseFillValue accepts null, a number, or one of the zarr float strings, which map to 0.
func parseFillValue(raw json.RawMessage) (uint16, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || strings.HasPrefix(s, `"`) {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad fill_value %s", s)
	}
	if f < 0 || f > math.MaxUint16 {
		return 0, fmt.Errorf("fill_value %s out of range", s)
	}
	return uint16(f), nil
}

func (a *arrayMeta) chunkVoxels() int {
	return a.Chunks[0] * a.Chunks[1] * a.Chunks[2]
}

// numChunks returns the chunk grid extent along each of z, y, x.
func (a *arrayMeta) numChunks() [3]int {
	var n [3]int
	for i := 0; i < 3; i++ {
		n[i] = (a.Shape[i] + a.Chunks[i] - 1) / a.Chunks[i]
	}
	return n
}

// chunkName is the object name of a chunk relative to its level.
func (a *arrayMeta) chunkName(cz, cy, cx int) string {
	sep := a.DimensionSeparator
	return strconv.Itoa(cz) + sep + strconv.Itoa(cy) + sep + strconv.Itoa(cx)
}

func (a *arrayMeta) uncompressed() bool {
	return a.Compressor == nil
}

var (
	zstdDecoder     *zstd.Decoder
	zstdDecoderErr  error
	zstdDecoderOnce sync.Once
)

func decompress(c *compressorMeta, raw []byte) ([]byte, error) {
	if c == nil {
		return raw, nil
	}
	switch c.ID {
	case "zstd":
		zstdDecoderOnce.Do(func() {
			zstdDecoder, zstdDecoderErr = zstd.NewReader(nil)
		})
		if zstdDecoderErr != nil {
			return nil, zstdDecoderErr
		}
		return zstdDecoder.DecodeAll(raw, nil)
	case "zlib":
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}
	return nil, fmt.Errorf("unsupported compressor %q", c.ID)
}

// decodeValues converts raw array bytes to 16-bit values.
func (a *arrayMeta) decodeValues(data []byte, numVoxels int) ([]uint16, error) {
	if len(data) != numVoxels*a.itemSize {
		return nil, fmt.Errorf("chunk holds %d bytes, expected %d", len(data), numVoxels*a.itemSize)
	}
	values := make([]uint16, numVoxels)
	if a.itemSize == 1 {
		for i, b := range data {
			values[i] = uint16(b)
		}
		return values, nil
	}
	for i := range values {
		values[i] = a.order.Uint16(data[2*i:])
	}
	return values, nil
}

// groupAttrs holds the multiscale part of a .zattrs document.
type groupAttrs struct {
	Multiscales []struct {
		Datasets []struct {
			Path            string `json:"path"`
			Transformations []struct {
				Type  string    `json:"type"`
				Scale []float64 `json:"scale"`
			} `json:"coordinateTransformations"`
		} `json:"datasets"`
	} `json:"multiscales"`
}

// scale returns the first scale factor of the dataset with the given path, or, if no
// dataset names its path, of the dataset at position index.
func (g *groupAttrs) scale(path string, index int) (float64, bool) {
	if g == nil || len(g.Multiscales) == 0 {
		return 0, false
	}
	datasets := g.Multiscales[0].Datasets
	pick := -1
	for i, ds := range datasets {
		if ds.Path == path {
			pick = i
			break
		}
	}
	if pick < 0 {
		pick = index
	}
	if pick < 0 || pick >= len(datasets) {
		return 0, false
	}
	for _, t := range datasets[pick].Transformations {
		if len(t.Scale) > 0 && (t.Type == "" || t.Type == "scale") {
			return t.Scale[0], true
		}
	}
	return 0, false
}
