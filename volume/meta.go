package volume

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blang/semver"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/twinj/uuid"
	"gocloud.dev/blob"

	"github.com/janelia-flyem/ooc/ooc"
)

const (
	// MetaFilename is the volume metadata object at the root of every volume.
	MetaFilename = "meta.json"

	// MetaVersion is the metadata version written by Create.  Volumes whose
	// metadata has a different major version are rejected.
	MetaVersion = "1.0.0"
)

// Metadata is the content of a volume's meta.json.
type Metadata struct {
	Type      string  `json:"type"`
	UUID      string  `json:"uuid,omitempty"`
	Name      string  `json:"name,omitempty"`
	Format    string  `json:"format,omitempty"`
	Version   string  `json:"version,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Slices    int     `json:"slices,omitempty"`
	VoxelSize float64 `json:"voxelsize"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

const metaSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"const": "vol"},
		"uuid": {"type": "string"},
		"name": {"type": "string"},
		"format": {"enum": ["tif", "zarr"]},
		"version": {"type": "string"},
		"width": {"type": "integer", "minimum": 0},
		"height": {"type": "integer", "minimum": 0},
		"slices": {"type": "integer", "minimum": 0},
		"voxelsize": {"type": "number", "minimum": 0},
		"min": {"type": "number"},
		"max": {"type": "number"}
	},
	"if": {
		"properties": {"format": {"const": "zarr"}},
		"required": ["format"]
	},
	"else": {
		"required": ["width", "height", "slices"]
	}
}`

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func metaValidator() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiledSchema, compiledSchemaErr = jsonschema.CompileString("schema.json", metaSchema)
	})
	return compiledSchema, compiledSchemaErr
}

// ParseMetadata validates and decodes meta.json content.
func ParseMetadata(data []byte) (Metadata, error) {
	var meta Metadata
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return meta, ooc.NewError("parse metadata", MetaFilename, ooc.ErrInvalidArgument, err)
	}
	sch, err := metaValidator()
	if err != nil {
		return meta, err
	}
	if err := sch.Validate(v); err != nil {
		return meta, ooc.NewError("validate metadata", MetaFilename, ooc.ErrInvalidArgument, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, ooc.NewError("parse metadata", MetaFilename, ooc.ErrInvalidArgument, err)
	}
	if err := meta.checkVersion(); err != nil {
		return meta, ooc.NewError("parse metadata", MetaFilename, ooc.ErrInvalidArgument, err)
	}
	return meta, nil
}

func (m Metadata) checkVersion() error {
	if m.Version == "" {
		return nil
	}
	have, err := semver.Parse(m.Version)
	if err != nil {
		return fmt.Errorf("bad metadata version %q: %v", m.Version, err)
	}
	want := semver.MustParse(MetaVersion)
	if have.Major != want.Major {
		return fmt.Errorf("metadata version %s is incompatible with supported version %s", have, want)
	}
	return nil
}

func (m Metadata) format() (Format, error) {
	switch m.Format {
	case "", "tif":
		return FlatSlices, nil
	case "zarr":
		return ChunkedArray, nil
	}
	return FlatSlices, fmt.Errorf("unknown volume format %q", m.Format)
}

func readMetadata(b *blob.Bucket) (Metadata, error) {
	data, err := readObject(b, MetaFilename)
	if err != nil {
		return Metadata{}, err
	}
	return ParseMetadata(data)
}

// Create makes a new flat volume of the given size at path and returns it opened with
// default options.  Slices are written with FlatVolume.SetSliceData.
func Create(path, name string, width, height, slices int) (*FlatVolume, error) {
	if width <= 0 || height <= 0 || slices <= 0 {
		return nil, ooc.NewError("create volume", path, ooc.ErrInvalidArgument,
			fmt.Errorf("bad size %d x %d x %d", width, height, slices))
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, ooc.IOError("create volume", path, err)
	}
	meta := Metadata{
		Type:    "vol",
		UUID:    fmt.Sprintf("%x", uuid.NewV4().Bytes()),
		Name:    name,
		Format:  FlatSlices.String(),
		Version: MetaVersion,
		Width:   width,
		Height:  height,
		Slices:  slices,
	}
	if err := ooc.WriteJSONFile(filepath.Join(path, MetaFilename), meta); err != nil {
		return nil, err
	}
	ds, err := Open(path, DefaultOptions())
	if err != nil {
		return nil, err
	}
	return ds.(*FlatVolume), nil
}
