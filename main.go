package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	humanize "github.com/dustin/go-humanize"
	chunkcache "github.com/maxsupermanhd/SlideChunk/chunkCache"
	"github.com/maxsupermanhd/SlideChunk/preprocess"
	"github.com/maxsupermanhd/SlideChunk/tiler"
	workerpool "github.com/maxsupermanhd/SlideChunk/workerPool"
)

var (
	BuildTime  = "00000000.000000"
	CommitHash = "0000000"
	GoVersion  = "0.0"
	GitTag     = "0.0"
)

var mainCtx, mainCtxCancel = context.WithCancel(context.Background())

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if buildinfo, ok := debug.ReadBuildInfo(); ok {
		GoVersion = buildinfo.GoVersion
	}
	if err := loadConfig(); err != nil {
		log.Fatal("Error loading config file: " + err.Error())
	}
	log.SetOutput(io.MultiWriter(createLogger(), os.Stdout))
	log.Println()
	log.Println("SlideChunk is starting up...")
	log.Printf("Built %s, Ver %s (%s)", BuildTime, GitTag, CommitHash)
	log.Println()

	store := chunkcache.NewFromConfig(log.Default(), cfg.SubTree("cache"))
	pool := workerpool.NewLazyDefault(log.Default(),
		cfg.GetDSInt(8, "pool", "max_workers"),
		cfg.GetDSInt(256, "pool", "queue_len"))
	engine = tiler.New(log.Default(), store, pool, preprocess.OptionsFromConfig(cfg.SubTree("cache")))
	defer engine.Close()
	if st, err := store.Stats(); err == nil && st.ChunkFiles > 0 {
		log.Printf("Chunk cache %s holds %d chunks of %q (%s)", st.Root, st.ChunkFiles, st.Source, humanize.Bytes(uint64(st.TotalBytes)))
	}

	go tasksProgressBroadcaster.Start()
	defer tasksProgressBroadcaster.Stop()
	engine.OnProgress(tasksProgressBroadcaster.Publish)

	if cfg.GetDSBool(true, "web", "watch_sources") {
		w, err := newSourceWatcher(engine)
		if err != nil {
			log.Printf("Source watcher disabled: %v", err)
		} else {
			watchedSources = w
			defer startBackgroundRoutine("source watcher", w.run)()
		}
	}
	defer startBackgroundRoutine("web server", runWeb)()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigs:
		log.Println("Got interrupt, shutting down")
	case <-mainCtx.Done():
	}
	mainCtxCancel()
}
