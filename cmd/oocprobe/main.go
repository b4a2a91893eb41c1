// Command-line probe of volumes and overlays.
// Reads slices and overlay points the way a viewer would and reports what it found.

package main

import (
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/tiff"

	"github.com/janelia-flyem/ooc/config"
	"github.com/janelia-flyem/ooc/ooc"
	"github.com/janelia-flyem/ooc/overlay"
	"github.com/janelia-flyem/ooc/volume"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Path to TOML configuration file.
	configFile = flag.String("config", "", "")

	// Resolution level for chunked volumes, overrides configuration.
	level = flag.String("level", "", "")

	// Write the slice read by the "slice" command to this TIFF file.
	outFile = flag.String("out", "", "")

	// Maximum number of overlay points printed.
	maxPoints = flag.Int("points", 20, "")
)

const helpMessage = `
oocprobe reads slices of large volumes and overlay points without loading whole volumes

Usage: oocprobe [options] <command>

      -config     =string   TOML configuration file.
      -level      =string   Resolution level of a chunked volume.
      -out        =string   Write slice to this TIFF file.
      -points     =number   Maximum number of overlay points printed (default 20).
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	info    <volume path>
	slice   <volume path> <x|y|z> <index> [x0 y0 x1 y1]
	overlay <overlay path> <z index> <x0> <y0> <x1> <y1>
	create  <volume path> <name> <width> <height> <slices>
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			log.Fatalf("Unable to load configuration: %v\n", err)
		}
	}
	cfg.Logging.SetLogger()
	if *runVerbose {
		ooc.Verbose = true
		ooc.SetLogMode(ooc.DebugMode)
	}
	defer ooc.Shutdown()

	if err := DoCommand(cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		ooc.Shutdown()
		os.Exit(1)
	}
}

// DoCommand runs one probe command.
func DoCommand(cfg *config.Config, args []string) error {
	switch args[0] {
	case "info":
		if len(args) != 2 {
			return fmt.Errorf("usage: info <volume path>")
		}
		return doInfo(cfg, args[1])
	case "slice":
		if len(args) != 4 && len(args) != 8 {
			return fmt.Errorf("usage: slice <volume path> <x|y|z> <index> [x0 y0 x1 y1]")
		}
		return doSlice(cfg, args[1:])
	case "overlay":
		if len(args) != 7 {
			return fmt.Errorf("usage: overlay <overlay path> <z index> <x0> <y0> <x1> <y1>")
		}
		return doOverlay(cfg, args[1:])
	case "create":
		if len(args) != 6 {
			return fmt.Errorf("usage: create <volume path> <name> <width> <height> <slices>")
		}
		return doCreate(args[1:])
	}
	return fmt.Errorf("unknown command %q, try 'oocprobe help'", args[0])
}

func atoi(name, s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %v", name, s, err)
	}
	return i, nil
}

func atof(name, s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %v", name, s, err)
	}
	return f, nil
}

func openVolume(cfg *config.Config, path string) (volume.Dataset, error) {
	opts := cfg.VolumeOptions()
	if *level != "" {
		opts.Level = *level
	}
	return volume.Open(path, opts)
}

func doInfo(cfg *config.Config, path string) error {
	ds, err := openVolume(cfg, path)
	if err != nil {
		return err
	}
	defer ds.Close()
	meta := ds.Metadata()
	fmt.Printf("%s volume %q (uuid %s) @ %s\n", ds.Format(), meta.Name, meta.UUID, ds.Path())
	fmt.Printf("  extents: %d x %d x %d, voxel size %g, intensity [%g, %g]\n",
		ds.Width(), ds.Height(), ds.Depth(), ds.VoxelSize(), ds.Min(), ds.Max())
	if cv, ok := ds.(*volume.ChunkedVolume); ok {
		for _, lv := range cv.Levels() {
			scale, _ := cv.ScaleForLevel(lv)
			active := ""
			if lv == cv.ActiveLevel() {
				active = " (active)"
			}
			fmt.Printf("  level %q: scale %g%s\n", lv, scale, active)
		}
		if cv.ActiveLevel() != "" {
			fmt.Printf("  chunk shape (z,y,x): %v\n", cv.ChunkShape())
		}
	}
	return nil
}

func doSlice(cfg *config.Config, args []string) error {
	axis, err := ooc.ParseAxis(args[1])
	if err != nil {
		return err
	}
	index, err := atoi("index", args[2])
	if err != nil {
		return err
	}
	ds, err := openVolume(cfg, args[0])
	if err != nil {
		return err
	}
	defer ds.Close()

	timedLog := ooc.NewTimeLog()
	var s *volume.Slice
	if len(args) == 7 {
		var c [4]int
		for i := range c {
			if c[i], err = atoi("rectangle coordinate", args[3+i]); err != nil {
				return err
			}
		}
		s, err = ds.GetSliceRect(index, axis, image.Rect(c[0], c[1], c[2], c[3]))
	} else {
		s, err = ds.GetSlice(index, axis)
	}
	if err != nil {
		return err
	}
	elapsed := timedLog.Elapsed()

	var lo, hi uint16 = 0xffff, 0
	var sum float64
	for _, v := range s.Pix {
		lo, hi = min(lo, v), max(hi, v)
		sum += float64(v)
	}
	fmt.Printf("%s slice %d: %d x %d read in %s\n", axis, index, s.Width, s.Height, elapsed)
	if !s.Empty() {
		fmt.Printf("  min %d, max %d, mean %.1f\n", lo, hi, sum/float64(len(s.Pix)))
	}
	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := tiff.Encode(f, s.Gray16(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return err
		}
		fmt.Printf("  wrote %s\n", *outFile)
	}
	return nil
}

func doOverlay(cfg *config.Config, args []string) error {
	z, err := atoi("z index", args[1])
	if err != nil {
		return err
	}
	var c [4]float64
	for i := range c {
		if c[i], err = atof("rectangle coordinate", args[2+i]); err != nil {
			return err
		}
	}
	settings, err := overlaySettings(cfg, args[0])
	if err != nil {
		return err
	}
	loader := overlay.NewLoader(cfg.LoaderOptions())
	defer loader.Close()
	if err := loader.SetSettings(settings); err != nil {
		return err
	}

	rect := ooc.NewRect(c[0], c[1], c[2], c[3])
	timedLog := ooc.NewTimeLog()
	pts, err := loader.Query(rect, z)
	if err != nil {
		return err
	}
	fmt.Printf("%d points in %s at z %d, found in %s\n", len(pts), rect, z, timedLog.Elapsed())
	fmt.Printf("  %s\n", loader.Stats())
	fmt.Printf("  %d chunks resident, %s points, %s\n", loader.Store().Len(),
		humanize.Comma(int64(loader.Store().NumPoints())), humanize.Bytes(uint64(loader.Store().MemSize())))
	for i, p := range pts {
		if i == *maxPoints {
			fmt.Printf("  ...\n")
			break
		}
		fmt.Printf("  %s\n", p)
	}
	return nil
}

// overlaySettings uses the overlay directory's sidecar if present, else the
// [overlay] section of the configuration file.
func overlaySettings(cfg *config.Config, dir string) (overlay.Settings, error) {
	_, err := os.Stat(filepath.Join(dir, overlay.SettingsFilename))
	if err == nil || cfg.Location() == "" {
		return overlay.LoadSettings(dir)
	}
	settings, err := cfg.OverlaySettings()
	if err != nil {
		return settings, err
	}
	settings.Path = dir
	return settings, nil
}

func doCreate(args []string) error {
	var dims [3]int
	var err error
	for i, name := range []string{"width", "height", "slices"} {
		if dims[i], err = atoi(name, args[2+i]); err != nil {
			return err
		}
	}
	v, err := volume.Create(args[0], args[1], dims[0], dims[1], dims[2])
	if err != nil {
		return err
	}
	defer v.Close()
	fmt.Printf("Created flat volume %q (uuid %s) @ %s\n", v.Metadata().Name, v.Metadata().UUID, v.Path())
	return nil
}
