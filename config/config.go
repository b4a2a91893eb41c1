/*
	Package config reads the TOML configuration shared by tools built on the volume and
	overlay packages.  Sections that are absent keep their defaults, and relative paths
	are resolved against the directory of the configuration file.

	Example:

		[logging]
		logfile = "ooc.log"
		level = "info"
		max_log_size = 100 # MB
		max_log_age = 30   # days

		[cache]
		slices = 64
		bytes_mb = 256     # compressed chunks over bytes_mb KB are not cached

		[volume]
		path = "/data/scroll1"
		level = "0"
		retries = 3
		retry_initial_ms = 20
		retry_max_ms = 500

		[overlay]
		path = "/data/overlay"
		naming = "layers"
		x_axis = 2
		y_axis = 0
		z_axis = 1
		offset = -125
		scale = 4.0
		chunk_size = 25
		workers = 0
*/
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/ooc/ooc"
	"github.com/janelia-flyem/ooc/overlay"
	"github.com/janelia-flyem/ooc/volume"
)

// Config is the full TOML configuration.
type Config struct {
	Logging ooc.LogConfig
	Cache   CacheConfig
	Volume  VolumeConfig
	Overlay OverlayConfig

	location string
}

type CacheConfig struct {
	Slices  int `toml:"slices"`
	BytesMB int `toml:"bytes_mb"`
}

type VolumeConfig struct {
	Path           string `toml:"path"`
	Level          string `toml:"level"`
	Retries        int    `toml:"retries"`
	RetryInitialMs int    `toml:"retry_initial_ms"`
	RetryMaxMs     int    `toml:"retry_max_ms"`
}

type OverlayConfig struct {
	Path          string  `toml:"path"`
	Naming        string  `toml:"naming"`
	XAxis         int     `toml:"x_axis"`
	YAxis         int     `toml:"y_axis"`
	ZAxis         int     `toml:"z_axis"`
	Offset        int     `toml:"offset"`
	Scale         float64 `toml:"scale"`
	ChunkSize     int     `toml:"chunk_size"`
	Workers       int     `toml:"workers"`
	JobsPerWorker int     `toml:"jobs_per_worker"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	vopts := volume.DefaultOptions()
	s := overlay.DefaultSettings()
	return &Config{
		Cache: CacheConfig{Slices: vopts.CacheCapacity},
		Volume: VolumeConfig{
			Retries:        vopts.Retries,
			RetryInitialMs: int(vopts.RetryInitial / time.Millisecond),
			RetryMaxMs:     int(vopts.RetryMax / time.Millisecond),
		},
		Overlay: OverlayConfig{
			Naming:        s.Naming.String(),
			XAxis:         s.XAxis,
			YAxis:         s.YAxis,
			ZAxis:         s.ZAxis,
			Offset:        s.Offset,
			Scale:         s.Scale,
			ChunkSize:     s.ChunkSize,
			JobsPerWorker: overlay.DefaultJobsPerWorker,
		},
	}
}

// Load reads a TOML configuration file over the defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	c := Default()
	md, err := toml.DecodeFile(filename, c)
	if err != nil {
		return nil, ooc.NewError("load config", filename, ooc.ErrInvalidArgument, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		ooc.Warningf("Ignoring unknown keys in %s: %v\n", filename, undecoded)
	}
	c.location = filename
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	if _, err := c.OverlaySettings(); err != nil {
		return nil, err
	}
	ooc.Infof("Loaded configuration from %s\n", filename)
	return c, nil
}

func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = ooc.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
	}

	// [volume].path, unless it is a bucket reference
	if c.Volume.Path != "" && !isBucketRef(c.Volume.Path) {
		c.Volume.Path, err = ooc.ConvertToAbsolute(c.Volume.Path, configDir)
		if err != nil {
			return fmt.Errorf("error converting volume path to absolute path")
		}
	}

	// [overlay].path
	if c.Overlay.Path != "" {
		c.Overlay.Path, err = ooc.ConvertToAbsolute(c.Overlay.Path, configDir)
		if err != nil {
			return fmt.Errorf("error converting overlay path to absolute path")
		}
	}
	return nil
}

func isBucketRef(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// Location returns the file the configuration was loaded from, if any.
func (c *Config) Location() string {
	return c.location
}

// VolumeOptions returns the dataset options from the [cache] and [volume] sections.
func (c *Config) VolumeOptions() volume.Options {
	return volume.Options{
		CacheCapacity:  c.Cache.Slices,
		ByteCacheBytes: c.Cache.BytesMB * ooc.Mega,
		Level:          c.Volume.Level,
		Retries:        c.Volume.Retries,
		RetryInitial:   time.Duration(c.Volume.RetryInitialMs) * time.Millisecond,
		RetryMax:       time.Duration(c.Volume.RetryMaxMs) * time.Millisecond,
	}
}

// OverlaySettings returns the validated [overlay] settings.
func (c *Config) OverlaySettings() (overlay.Settings, error) {
	naming, err := overlay.ParseNaming(c.Overlay.Naming)
	if err != nil {
		return overlay.Settings{}, err
	}
	s := overlay.Settings{
		Path:      c.Overlay.Path,
		Naming:    naming,
		XAxis:     c.Overlay.XAxis,
		YAxis:     c.Overlay.YAxis,
		ZAxis:     c.Overlay.ZAxis,
		Offset:    c.Overlay.Offset,
		Scale:     c.Overlay.Scale,
		ChunkSize: c.Overlay.ChunkSize,
	}
	return s, s.Validate()
}

// LoaderOptions returns the overlay worker pool sizing.
func (c *Config) LoaderOptions() overlay.LoaderOptions {
	return overlay.LoaderOptions{
		Workers:       c.Overlay.Workers,
		JobsPerWorker: c.Overlay.JobsPerWorker,
	}
}
