package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/janelia-flyem/ooc/ooc"
	"github.com/janelia-flyem/ooc/overlay"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "ooc.toml")
	content := `
[logging]
logfile = "logs/ooc.log"
level = "debug"
max_log_size = 10

[cache]
slices = 16
bytes_mb = 2

[volume]
path = "gs://scrolls/s1"
level = "2"
retries = 5

[overlay]
path = "overlay"
naming = "cells"
x_axis = 0
y_axis = 1
z_axis = 2
scale = 2.0
`
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(filename)
	if err != nil {
		t.Fatalf("unable to load config: %v\n", err)
	}
	if c.Logging.Logfile != filepath.Join(dir, "logs", "ooc.log") || c.Logging.MaxSize != 10 || c.Logging.Level != "debug" {
		t.Errorf("bad logging config %+v\n", c.Logging)
	}
	if c.Volume.Path != "gs://scrolls/s1" {
		t.Errorf("bucket reference should not be made absolute: %q\n", c.Volume.Path)
	}

	opts := c.VolumeOptions()
	if opts.CacheCapacity != 16 || opts.ByteCacheBytes != 2*ooc.Mega || opts.Level != "2" || opts.Retries != 5 {
		t.Errorf("bad volume options %+v\n", opts)
	}
	if opts.RetryInitial != 20*time.Millisecond {
		t.Errorf("expected default retry initial, got %s\n", opts.RetryInitial)
	}

	s, err := c.OverlaySettings()
	if err != nil {
		t.Fatal(err)
	}
	expected := overlay.Settings{
		Path:      filepath.Join(dir, "overlay"),
		Naming:    overlay.NamingCells,
		XAxis:     0,
		YAxis:     1,
		ZAxis:     2,
		Offset:    -125,
		Scale:     2,
		ChunkSize: 25,
	}
	if s != expected {
		t.Errorf("expected overlay settings %+v, got %+v\n", expected, s)
	}
	if lo := c.LoaderOptions(); lo.Workers != 0 || lo.JobsPerWorker != overlay.DefaultJobsPerWorker {
		t.Errorf("bad loader options %+v\n", lo)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Errorf("expected error for empty filename\n")
	}
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	os.WriteFile(bad, []byte("[cache\nslices = 3"), 0644)
	if _, err := Load(bad); !errors.Is(err, ooc.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for bad TOML, got %v\n", err)
	}
	axes := filepath.Join(dir, "axes.toml")
	os.WriteFile(axes, []byte("[overlay]\nx_axis = 1\n"), 0644)
	if _, err := Load(axes); !errors.Is(err, ooc.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for repeated axis, got %v\n", err)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	s, err := c.OverlaySettings()
	if err != nil {
		t.Fatal(err)
	}
	if s != overlay.DefaultSettings() {
		t.Errorf("default config should give default overlay settings, got %+v\n", s)
	}
	if c.VolumeOptions().CacheCapacity <= 0 {
		t.Errorf("default cache capacity must be positive\n")
	}
}
