/*
	Package overlay loads point cloud and mesh overlays stored as spatial chunks on disk
	and answers "which overlay points lie in this rectangle of this slice" queries.

	Chunks are addressed by a ChunkID computed from the query region.  Only chunks not
	yet resident in the ChunkPointStore are read; their files are parsed by a fixed worker
	pool into per-worker accumulators that are merged into the store after each batch.
*/
package overlay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/janelia-flyem/ooc/ooc"
)

// SettingsFilename is the optional settings sidecar in an overlay directory.
const SettingsFilename = "overlay.yaml"

// Naming is the on-disk chunk naming convention.
type Naming uint8

const (
	// NamingLayers stores each chunk as a folder named by the zero-padded y, z and x
	// lower bounds of the chunk, holding any number of mesh files.
	NamingLayers Naming = iota

	// NamingCells stores each chunk as a single file named cell_yxz_YYY_XXX_ZZZ
	// by its y, x and z cell indices.
	NamingCells
)

func (n Naming) String() string {
	switch n {
	case NamingLayers:
		return "layers"
	case NamingCells:
		return "cells"
	default:
		return fmt.Sprintf("naming(%d)", uint8(n))
	}
}

// ParseNaming converts "layers" or "cells" to a Naming.
func ParseNaming(s string) (Naming, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "layers":
		return NamingLayers, nil
	case "cells":
		return NamingCells, nil
	}
	return NamingLayers, ooc.NewError("parse naming", "", ooc.ErrInvalidArgument, fmt.Errorf("%q", s))
}

// UnmarshalYAML accepts the string form of a Naming.
func (n *Naming) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	naming, err := ParseNaming(s)
	if err != nil {
		return err
	}
	*n = naming
	return nil
}

// MarshalYAML writes the string form of a Naming.
func (n Naming) MarshalYAML() (interface{}, error) {
	return n.String(), nil
}

// Settings describe where overlay chunks live and how overlay coordinates map to
// slice coordinates.  A raw point p becomes (p + Offset) * Scale; XAxis, YAxis and
// ZAxis give the raw point component holding each logical axis.
type Settings struct {
	Path      string  `yaml:"path"`
	Naming    Naming  `yaml:"naming"`
	XAxis     int     `yaml:"x_axis"`
	YAxis     int     `yaml:"y_axis"`
	ZAxis     int     `yaml:"z_axis"`
	Offset    int     `yaml:"offset"`
	Scale     float64 `yaml:"scale"`
	ChunkSize int     `yaml:"chunk_size"`
}

// DefaultSettings returns the settings of the standard layered overlay export.
func DefaultSettings() Settings {
	return Settings{
		Naming:    NamingLayers,
		XAxis:     2,
		YAxis:     0,
		ZAxis:     1,
		Offset:    -125,
		Scale:     4,
		ChunkSize: 25,
	}
}

// Validate checks that the axes are a permutation of 0, 1, 2 and that scale and chunk
// size are positive.
func (s Settings) Validate() error {
	var seen [3]bool
	for _, a := range []int{s.XAxis, s.YAxis, s.ZAxis} {
		if a < 0 || a > 2 || seen[a] {
			return ooc.NewError("validate overlay settings", s.Path, ooc.ErrInvalidArgument,
				fmt.Errorf("axes x=%d y=%d z=%d are not a permutation of 0, 1, 2", s.XAxis, s.YAxis, s.ZAxis))
		}
		seen[a] = true
	}
	if s.Scale <= 0 {
		return ooc.NewError("validate overlay settings", s.Path, ooc.ErrInvalidArgument,
			fmt.Errorf("scale must be > 0, got %g", s.Scale))
	}
	if s.ChunkSize <= 0 {
		return ooc.NewError("validate overlay settings", s.Path, ooc.ErrInvalidArgument,
			fmt.Errorf("chunk size must be > 0, got %d", s.ChunkSize))
	}
	if s.Naming != NamingLayers && s.Naming != NamingCells {
		return ooc.NewError("validate overlay settings", s.Path, ooc.ErrInvalidArgument,
			fmt.Errorf("unknown naming %s", s.Naming))
	}
	return nil
}

// LoadSettings returns the settings for the overlay directory dir: the defaults,
// overridden by any values in dir/overlay.yaml.  The returned Path is always dir.
func LoadSettings(dir string) (Settings, error) {
	s := DefaultSettings()
	filename := filepath.Join(dir, SettingsFilename)
	data, err := os.ReadFile(filename)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return s, ooc.IOError("load overlay settings", filename, err)
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, ooc.NewError("load overlay settings", filename, ooc.ErrInvalidArgument, err)
		}
		ooc.Infof("Loaded overlay settings from %s\n", filename)
	}
	s.Path = dir
	return s, s.Validate()
}
