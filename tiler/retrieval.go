package tiler

import (
	"time"

	"github.com/maxsupermanhd/SlideChunk/primitives"
	tilecodec "github.com/maxsupermanhd/SlideChunk/tileCodec"
	workerpool "github.com/maxsupermanhd/SlideChunk/workerPool"
)

// GetTile returns the chunk file of col,row as stored on disk, header included.
// It never preprocesses, a missing cache is ErrCacheMissing.
// The read runs on the worker pool so concurrent requests do not queue up.
func (e *Engine) GetTile(col, row uint32, path string) ([]byte, error) {
	return workerpool.Run(e.pool.Get(), func() ([]byte, error) {
		return e.readTile(col, row, path)
	})
}

func (e *Engine) readTile(col, row uint32, path string) ([]byte, error) {
	start := time.Now()
	if !e.store.ExistsFor(path) {
		return nil, primitives.NewError(primitives.ErrCacheMissing, "get chunk", path, nil)
	}
	b, err := e.store.ReadTile(col, row)
	if err != nil {
		return nil, err
	}
	w, h, err := tilecodec.Header(b)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("Chunk %dx%d of %q: %dx%d, %d pixel bytes in %s", col, row, path, w, h, len(b)-tilecodec.HeaderSize, time.Since(start))
	return b, nil
}

// GetOverview returns overview.png of the cached source.
func (e *Engine) GetOverview(path string) ([]byte, error) {
	return workerpool.Run(e.pool.Get(), func() ([]byte, error) {
		if !e.store.ExistsFor(path) {
			return nil, primitives.NewError(primitives.ErrCacheMissing, "get overview", path, nil)
		}
		return e.store.ReadOverview()
	})
}
