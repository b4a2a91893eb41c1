package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/ooc/config"
	"github.com/janelia-flyem/ooc/volume"
)

func TestDoCommand(t *testing.T) {
	cfg := config.Default()
	dir := filepath.Join(t.TempDir(), "vol")
	if err := DoCommand(cfg, []string{"create", dir, "grey", "4", "3", "2"}); err != nil {
		t.Fatalf("create failed: %v\n", err)
	}
	v, err := volume.Open(dir, volume.DefaultOptions())
	if err != nil {
		t.Fatalf("can't open created volume: %v\n", err)
	}
	fv := v.(*volume.FlatVolume)
	s := volume.NewSlice(4, 3)
	for i := range s.Pix {
		s.Pix[i] = uint16(i * 100)
	}
	for z := 0; z < 2; z++ {
		if err := fv.SetSliceData(z, s, z == 1); err != nil {
			t.Fatalf("can't write slice %d: %v\n", z, err)
		}
	}
	v.Close()

	if err := DoCommand(cfg, []string{"info", dir}); err != nil {
		t.Errorf("info failed: %v\n", err)
	}
	*outFile = filepath.Join(t.TempDir(), "out.tif")
	defer func() { *outFile = "" }()
	if err := DoCommand(cfg, []string{"slice", dir, "z", "1", "1", "1", "3", "3"}); err != nil {
		t.Errorf("slice failed: %v\n", err)
	}
	if _, err := os.Stat(*outFile); err != nil {
		t.Errorf("expected slice written to %s: %v\n", *outFile, err)
	}
	if err := DoCommand(cfg, []string{"slice", dir, "x", "1"}); err == nil {
		t.Errorf("expected error reading x slice of flat volume\n")
	}
	if err := DoCommand(cfg, []string{"overlay", t.TempDir(), "100", "0", "0", "50", "50"}); err != nil {
		t.Errorf("overlay query of empty directory failed: %v\n", err)
	}
	if err := DoCommand(cfg, []string{"bogus"}); err == nil {
		t.Errorf("expected error for unknown command\n")
	}
	if err := DoCommand(cfg, []string{"slice", dir, "z"}); err == nil {
		t.Errorf("expected usage error for missing index\n")
	}
}
