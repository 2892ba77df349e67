package main

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	humanize "github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	chunkcache "github.com/maxsupermanhd/SlideChunk/chunkCache"
	"github.com/maxsupermanhd/SlideChunk/tiler"
	tilecodec "github.com/maxsupermanhd/SlideChunk/tileCodec"
	"github.com/shirou/gopsutil/mem"
)

var (
	engine         *tiler.Engine
	watchedSources *sourceWatcher
)

func sourceParam(r *http.Request) (string, bool) {
	path := r.URL.Query().Get("path")
	return path, path != ""
}

func apiMetadata(w http.ResponseWriter, r *http.Request) (int, string) {
	path, ok := sourceParam(r)
	if !ok {
		return 400, "Missing path query parameter"
	}
	m, err := engine.GetOrBuildMetadata(path)
	if err != nil {
		log.Printf("Metadata of %q failed: %v", path, err)
		return respondError(w, err)
	}
	watchedSources.Track(path)
	setContentTypeJson(w)
	return marshalOrFail(200, m)
}

func apiRebuild(w http.ResponseWriter, r *http.Request) (int, string) {
	path, ok := sourceParam(r)
	if !ok {
		return 400, "Missing path query parameter"
	}
	m, err := engine.ForceRebuild(path)
	if err != nil {
		log.Printf("Rebuild of %q failed: %v", path, err)
		return respondError(w, err)
	}
	watchedSources.Track(path)
	setContentTypeJson(w)
	return marshalOrFail(200, m)
}

func apiClearCache(w http.ResponseWriter, _ *http.Request) (int, string) {
	msg, err := engine.ClearCache()
	if err != nil {
		return respondError(w, err)
	}
	return 200, msg
}

func apiClearCacheFor(w http.ResponseWriter, r *http.Request) (int, string) {
	path, ok := sourceParam(r)
	if !ok {
		return 400, "Missing path query parameter"
	}
	msg, err := engine.ClearCacheFor(path)
	if err != nil {
		return respondError(w, err)
	}
	return 200, msg
}

func apiStats(w http.ResponseWriter, _ *http.Request) (int, string) {
	st, err := engine.GetStats()
	if err != nil {
		return respondError(w, err)
	}
	if cs, ok := st["cache"].(chunkcache.Stats); ok {
		st["cache size"] = humanize.Bytes(uint64(cs.TotalBytes))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st["host memory"] = fmt.Sprintf("%s used of %s (%.1f%%)", humanize.Bytes(vm.Used), humanize.Bytes(vm.Total), vm.UsedPercent)
	}
	st["version"] = fmt.Sprintf("%s %s built %s %s", GitTag, CommitHash, BuildTime, GoVersion)
	setContentTypeJson(w)
	return marshalOrFail(200, st)
}

// tileHandler streams the stored chunk file as is, header included.
func tileHandler(w http.ResponseWriter, r *http.Request) {
	setServerHeaders(w)
	path, ok := sourceParam(r)
	if !ok {
		http.Error(w, "Missing path query parameter", http.StatusBadRequest)
		return
	}
	params := mux.Vars(r)
	col, err := strconv.ParseUint(params["col"], 10, 32)
	if err != nil {
		http.Error(w, "Bad column: "+err.Error(), http.StatusBadRequest)
		return
	}
	row, err := strconv.ParseUint(params["row"], 10, 32)
	if err != nil {
		http.Error(w, "Bad row: "+err.Error(), http.StatusBadRequest)
		return
	}
	b, err := engine.GetTile(uint32(col), uint32(row), path)
	if err != nil {
		code, content := respondError(w, err)
		w.WriteHeader(code)
		w.Write([]byte(content))
		return
	}
	tw, th, _ := tilecodec.Header(b)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.Header().Set("X-Chunk-Width", strconv.FormatUint(uint64(tw), 10))
	w.Header().Set("X-Chunk-Height", strconv.FormatUint(uint64(th), 10))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func overviewHandler(w http.ResponseWriter, r *http.Request) {
	setServerHeaders(w)
	path, ok := sourceParam(r)
	if !ok {
		http.Error(w, "Missing path query parameter", http.StatusBadRequest)
		return
	}
	b, err := engine.GetOverview(path)
	if err != nil {
		code, content := respondError(w, err)
		w.WriteHeader(code)
		w.Write([]byte(content))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}
