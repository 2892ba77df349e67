package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	humanize "github.com/dustin/go-humanize"
	chunkcache "github.com/maxsupermanhd/SlideChunk/chunkCache"
	"github.com/maxsupermanhd/SlideChunk/preprocess"
	"github.com/maxsupermanhd/SlideChunk/primitives"
	"github.com/maxsupermanhd/SlideChunk/tiler"
	tilecodec "github.com/maxsupermanhd/SlideChunk/tileCodec"
	workerpool "github.com/maxsupermanhd/SlideChunk/workerPool"
	"github.com/natefinch/lumberjack"
)

var (
	root       = flag.String("root", chunkcache.DefaultRoot, "Chunk cache directory")
	tileWidth  = flag.Uint("tw", 4096, "Chunk width")
	tileHeight = flag.Uint("th", 4096, "Chunk height")
	workers    = flag.Int("workers", 8, "Upper bound of worker threads")
	noMmap     = flag.Bool("nommap", false, "Write chunks with plain writes instead of mmap")
	logPath    = flag.String("log", "", "Also log to this rotating file")
	verbose    = flag.Bool("v", false, "Log engine internals to stderr")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] command [args]

Commands:
  build <image>                       build (or reuse) the chunk cache of image
  rebuild <image>                     drop the cache of image and build it again
  tile [-o file] <col> <row> <image>  write chunk col,row of the cached image
  clear [image]                       clear the cache, or only the cache of image
  inspect [-dump]                     show what the cache holds

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	var out io.Writer = io.Discard
	if *verbose {
		out = os.Stderr
	}
	if *logPath != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename: *logPath,
			MaxSize:  10,
			Compress: true,
		})
	}
	logger := log.New(out, "", log.Ldate|log.Ltime|log.Lshortfile)

	store := chunkcache.New(logger, chunkcache.Options{
		Root:             *root,
		MmapWrites:       !*noMmap,
		VerifySourceStat: true,
	})
	e := tiler.New(logger, store, workerpool.NewLazyDefault(logger, *workers, 256), preprocess.Options{
		TileWidth:    uint32(*tileWidth),
		TileHeight:   uint32(*tileHeight),
		OverviewSize: preprocess.DefaultOverviewSize,
	})
	defer e.Close()

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "build":
		err = build(e, args, false)
	case "rebuild":
		err = build(e, args, true)
	case "tile":
		err = tile(e, args)
	case "clear":
		err = clearCache(e, args)
	case "inspect":
		err = inspect(store, args)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var terr *primitives.TileError
		if errors.As(err, &terr) {
			fmt.Fprintf(os.Stderr, "Failed chunk: %s\n", terr.Tile)
		}
		os.Exit(1)
	}
}

func build(e *tiler.Engine, args []string, force bool) error {
	if len(args) != 1 {
		return errors.New("expected one image path")
	}
	e.OnProgress(func(p preprocess.Progress) {
		switch p.Phase {
		case preprocess.PhaseTiles:
			fmt.Printf("\rchunks %d/%d", p.Done, p.Total)
		case preprocess.PhaseDone, preprocess.PhaseFailed:
			fmt.Println()
		}
	})
	start := time.Now()
	var m primitives.ImageMetadata
	var err error
	if force {
		m, err = e.ForceRebuild(args[0])
	} else {
		m, err = e.GetOrBuildMetadata(args[0])
	}
	if err != nil {
		return err
	}
	st, err := e.Store().Stats()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %dx%d px, %dx%d chunks of %dx%d, %s on disk, took %s\n",
		args[0], m.TotalWidth, m.TotalHeight, m.ColCount, m.RowCount, m.TileWidth, m.TileHeight,
		humanize.Bytes(uint64(st.TotalBytes)), time.Since(start).Round(time.Millisecond))
	return nil
}

func tile(e *tiler.Engine, args []string) error {
	fs := flag.NewFlagSet("tile", flag.ExitOnError)
	outPath := fs.String("o", "", "Output file (default chunk_<col>_<row>.bin)")
	fs.Parse(args)
	if fs.NArg() != 3 {
		return errors.New("expected col, row and image path")
	}
	var col, row uint32
	if _, err := fmt.Sscan(fs.Arg(0), &col); err != nil {
		return fmt.Errorf("bad column: %w", err)
	}
	if _, err := fmt.Sscan(fs.Arg(1), &row); err != nil {
		return fmt.Errorf("bad row: %w", err)
	}
	b, err := e.GetTile(col, row, fs.Arg(2))
	if err != nil {
		return err
	}
	if err := tilecodec.Validate(b); err != nil {
		return err
	}
	w, h, _ := tilecodec.Header(b)
	if *outPath == "" {
		*outPath = fmt.Sprintf("chunk_%d_%d.bin", col, row)
	}
	if err := os.WriteFile(*outPath, b, 0644); err != nil {
		return err
	}
	fmt.Printf("chunk %d:%d is %dx%d, %s written to %s\n", col, row, w, h, humanize.Bytes(uint64(len(b))), *outPath)
	return nil
}

func clearCache(e *tiler.Engine, args []string) error {
	var msg string
	var err error
	switch len(args) {
	case 0:
		msg, err = e.ClearCache()
	case 1:
		msg, err = e.ClearCacheFor(args[0])
	default:
		return errors.New("expected at most one image path")
	}
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func inspect(store *chunkcache.Store, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dump := fs.Bool("dump", false, "Dump full metadata")
	fs.Parse(args)
	st, err := store.Stats()
	if err != nil {
		return err
	}
	if st.ChunkFiles == 0 && st.Source == "" {
		fmt.Printf("%s: empty\n", st.Root)
		return nil
	}
	fmt.Printf("%s: %d chunks (%s), %s total\n", st.Root, st.ChunkFiles, humanize.Bytes(uint64(st.ChunkBytes)), humanize.Bytes(uint64(st.TotalBytes)))
	id, err := store.ReadIdentity()
	if err != nil {
		fmt.Println("source info:", err)
	} else {
		fmt.Printf("source %q, %dx%d, %s, valid: %v\n", id.SourcePath, id.TotalWidth, id.TotalHeight,
			humanize.Bytes(uint64(id.SourceSize)), store.ExistsFor(id.SourcePath))
	}
	m, err := store.ReadMetadata()
	if err != nil {
		fmt.Println("metadata:", err)
		return nil
	}
	fmt.Printf("grid %dx%d of %dx%d chunks\n", m.ColCount, m.RowCount, m.TileWidth, m.TileHeight)
	if *dump {
		spew.Dump(m)
	}
	return nil
}
