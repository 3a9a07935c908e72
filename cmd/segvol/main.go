// Command segvol is a small operational tool for inspecting and exporting
// persisted segmentations outside the platform's serving path.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/voxelmed/segvol/segmentation"
	"github.com/voxelmed/segvol/segvol"
	"github.com/voxelmed/segvol/storage"
	"github.com/voxelmed/segvol/storage/filestore"
	"github.com/voxelmed/segvol/storage/rendercache"

	// Register remaining storage engines.
	_ "github.com/voxelmed/segvol/storage/badger"
	_ "github.com/voxelmed/segvol/storage/gcs"
)

const helpMessage = `
segvol is a tool for inspecting and exporting persisted segmentations.

Usage: segvol [options] <command>

	-config  =string   Path of TOML configuration file.
	-verbose (flag)    Run in verbose mode.

Commands:

	info  <segmentation id>
		Prints the sidecar metadata and recomputed statistics.

	flush <segmentation id>
		Loads the segmentation and rewrites it through the persistence
		adapter, migrating any legacy axis order in place.

	export <segmentation id> <directory>
		Re-exports the segmentation into a local directory tree in its
		current interchange format.
`

var (
	configFile = flag.String("config", "", "path of TOML configuration file")
	verbose    = flag.Bool("verbose", false, "run in verbose mode")
)

func main() {
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if *verbose {
		segvol.SetLogMode(segvol.DebugMode)
	} else {
		segvol.SetLogMode(segvol.InfoMode)
	}

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	config, err := segvol.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	config.Log.SetLogger()

	storeConfig, err := config.StoreConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error in [store] config: %v\n", err)
		os.Exit(1)
	}
	db, _, err := storage.NewKeyValueStore(storeConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	cache := rendercache.New(config.RenderCache.MBytes)
	adapter := segmentation.NewAdapter(db, cache)
	ctx := context.Background()
	id := segvol.SegmentationID(args[1])

	switch args[0] {
	case "info":
		err = runInfo(ctx, adapter, id)
	case "flush":
		err = runFlush(ctx, adapter, id)
	case "export":
		if len(args) < 3 {
			flag.Usage()
			os.Exit(1)
		}
		err = runExport(ctx, adapter, id, args[2])
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runInfo(ctx context.Context, adapter segmentation.Adapter, id segvol.SegmentationID) error {
	seg, vol, err := adapter.Load(ctx, id)
	if err != nil {
		return err
	}
	data, err := seg.MarshalSidecar()
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", data)

	stats := segmentation.ComputeStatistics(vol)
	fmt.Printf("annotated slices: %d of %d (%d%%)\n",
		stats.AnnotatedSlices, seg.Shape.Depth(), stats.ProgressPercentage(seg.Shape.Depth()))
	for _, d := range seg.Labels {
		ls, found := stats.PerLabel[d.ID]
		if !found {
			continue
		}
		fmt.Printf("%-24s %12d voxels  %6.2f%%  on %d slices\n", d.Name, ls.VoxelCount, ls.Percentage, ls.SlicesPresent)
	}
	return nil
}

func runFlush(ctx context.Context, adapter segmentation.Adapter, id segvol.SegmentationID) error {
	seg, vol, err := adapter.Load(ctx, id)
	if err != nil {
		return err
	}
	// A full rewrite covers every slice, migrating any legacy layout.
	vol.MarkAllDirty()
	return adapter.Save(ctx, seg, vol)
}

func runExport(ctx context.Context, adapter segmentation.Adapter, id segvol.SegmentationID, dir string) error {
	seg, vol, err := adapter.Load(ctx, id)
	if err != nil {
		return err
	}
	out, err := filestore.NewStore(dir)
	if err != nil {
		return err
	}
	defer out.Close()

	vol.MarkAllDirty()
	if err := segmentation.NewAdapter(out, nil).Save(ctx, seg, vol); err != nil {
		return err
	}
	fmt.Printf("Exported segmentation %q to %s\n", id, dir)
	return nil
}
