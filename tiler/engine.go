/*
	SlideChunk, chunked tile cache for very large raster images
	Copyright (C) 2022 Maxim Zhuchkov

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.

	Contact me via mail: q3.max.2011@yandex.ru or Discord: MaX#6717
*/

package tiler

import (
	"io"
	"log"
	"sync"
	"sync/atomic"

	chunkcache "github.com/maxsupermanhd/SlideChunk/chunkCache"
	"github.com/maxsupermanhd/SlideChunk/preprocess"
	"github.com/maxsupermanhd/SlideChunk/primitives"
	sourceimage "github.com/maxsupermanhd/SlideChunk/sourceImage"
	workerpool "github.com/maxsupermanhd/SlideChunk/workerPool"
)

// Engine is the operation surface over one chunk cache directory.
// Builds and clears are serialized, tile reads are not.
type Engine struct {
	logger    *log.Logger
	store     *chunkcache.Store
	pool      *workerpool.Lazy
	pipeline  *preprocess.Pipeline
	buildLock sync.Mutex
	statHits  atomic.Int64
	statBuild atomic.Int64
}

// lazyRunner defers pool construction until the first fan-out.
type lazyRunner struct {
	pool *workerpool.Lazy
}

func (r lazyRunner) Map(n int, fn func(int) error) []error {
	return r.pool.Get().Map(n, fn)
}

func New(logger *log.Logger, store *chunkcache.Store, pool *workerpool.Lazy, opts preprocess.Options) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		logger:   logger,
		store:    store,
		pool:     pool,
		pipeline: preprocess.New(logger, store, lazyRunner{pool: pool}, opts),
	}
}

func (e *Engine) OnProgress(fn func(preprocess.Progress)) {
	e.pipeline.OnProgress(fn)
}

func (e *Engine) Store() *chunkcache.Store {
	return e.store
}

func checkSource(path string) error {
	if err := sourceimage.CheckExtension(path); err != nil {
		return err
	}
	_, _, err := sourceimage.Stat(path)
	return err
}

// GetOrBuildMetadata returns cached metadata for path, preprocessing it first
// when the cache does not belong to path.
func (e *Engine) GetOrBuildMetadata(path string) (primitives.ImageMetadata, error) {
	if err := checkSource(path); err != nil {
		return primitives.ImageMetadata{}, err
	}
	e.buildLock.Lock()
	defer e.buildLock.Unlock()
	if e.store.ExistsFor(path) {
		m, err := e.store.ReadMetadata()
		if err != nil {
			return primitives.ImageMetadata{}, err
		}
		e.statHits.Add(1)
		e.logger.Printf("Loaded cached metadata of %q: %dx%d, %d chunks", path, m.TotalWidth, m.TotalHeight, len(m.Tiles))
		return m, nil
	}
	e.logger.Printf("No chunk cache for %q, preprocessing", path)
	e.statBuild.Add(1)
	return e.pipeline.Run(path)
}

// ForceRebuild drops the cache of path (if it is the cached one) and preprocesses again.
func (e *Engine) ForceRebuild(path string) (primitives.ImageMetadata, error) {
	if err := checkSource(path); err != nil {
		return primitives.ImageMetadata{}, err
	}
	e.buildLock.Lock()
	defer e.buildLock.Unlock()
	r, err := e.store.ClearFor(path)
	if err != nil {
		e.logger.Printf("Clearing cache before rebuild of %q failed: %v", path, err)
	} else {
		e.logger.Printf("Rebuilding %q: %s", path, r)
	}
	e.statBuild.Add(1)
	return e.pipeline.Run(path)
}

func (e *Engine) ClearCache() (string, error) {
	e.buildLock.Lock()
	defer e.buildLock.Unlock()
	r, err := e.store.ClearAll()
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

func (e *Engine) ClearCacheFor(path string) (string, error) {
	e.buildLock.Lock()
	defer e.buildLock.Unlock()
	r, err := e.store.ClearFor(path)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

func (e *Engine) GetStats() (map[string]any, error) {
	st, err := e.store.Stats()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cache":          st,
		"metadata hits":  e.statHits.Load(),
		"builds started": e.statBuild.Load(),
		"pool":           e.pool.Get().GetStats(),
	}, nil
}

func (e *Engine) Close() {
	e.pool.Close()
}
