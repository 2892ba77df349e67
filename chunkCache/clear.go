package chunkcache

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/maxsupermanhd/SlideChunk/primitives"
)

type ClearResult int

const (
	ClearNothing ClearResult = iota
	ClearNoIdentity
	ClearMismatch
	Cleared
)

func (r ClearResult) String() string {
	switch r {
	case ClearNothing:
		return "chunk cache does not exist"
	case ClearNoIdentity:
		return "chunk cache has no source info"
	case ClearMismatch:
		return "chunk cache belongs to a different source"
	case Cleared:
		return "chunk cache cleared"
	}
	return "unknown clear result"
}

// ClearAll removes the whole cache directory. Clearing an absent cache is fine.
func (s *Store) ClearAll() (ClearResult, error) {
	if _, err := os.Stat(s.opts.Root); errors.Is(err, fs.ErrNotExist) {
		return ClearNothing, nil
	}
	if err := os.RemoveAll(s.opts.Root); err != nil {
		return ClearNothing, primitives.FromOS("clear cache", s.opts.Root, err)
	}
	s.logger.Printf("Chunk cache %s cleared", s.opts.Root)
	return Cleared, nil
}

// ClearFor removes the cache only when it belongs to sourcePath.
func (s *Store) ClearFor(sourcePath string) (ClearResult, error) {
	if _, err := os.Stat(s.opts.Root); errors.Is(err, fs.ErrNotExist) {
		return ClearNothing, nil
	}
	id, err := s.ReadIdentity()
	if errors.Is(err, primitives.ErrNotFound) {
		return ClearNoIdentity, nil
	}
	if err != nil {
		return ClearNothing, err
	}
	if id.SourcePath != sourcePath {
		s.logger.Printf("Not clearing chunk cache of %q, requested %q", id.SourcePath, sourcePath)
		return ClearMismatch, nil
	}
	if err := os.RemoveAll(s.opts.Root); err != nil {
		return ClearNothing, primitives.FromOS("clear cache", s.opts.Root, err)
	}
	s.logger.Printf("Chunk cache of %q cleared", sourcePath)
	return Cleared, nil
}

type Stats struct {
	Root       string `json:"root"`
	Source     string `json:"source"`
	ChunkFiles int    `json:"chunk_files"`
	ChunkBytes int64  `json:"chunk_bytes"`
	TotalBytes int64  `json:"total_bytes"`
}

func (s *Store) Stats() (Stats, error) {
	st := Stats{Root: s.opts.Root}
	entries, err := os.ReadDir(s.opts.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, primitives.FromOS("list cache", s.opts.Root, err)
	}
	if id, err := s.ReadIdentity(); err == nil {
		st.Source = id.SourcePath
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.IsDir() {
			continue
		}
		st.TotalBytes += info.Size()
		if isChunkName(e.Name()) {
			st.ChunkFiles++
			st.ChunkBytes += info.Size()
		}
	}
	return st, nil
}

func (s *Store) WriteOverview(img image.Image) error {
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		return primitives.NewError(primitives.ErrIO, "encode overview", s.OverviewPath(), err)
	}
	return s.writeFileAtomic("write overview", s.OverviewPath(), b.Bytes())
}

func (s *Store) ReadOverview() ([]byte, error) {
	b, err := os.ReadFile(s.OverviewPath())
	if err != nil {
		return nil, primitives.FromOS("read overview", s.OverviewPath(), err)
	}
	return b, nil
}

func (s *Store) RemoveOverview() error {
	err := os.Remove(filepath.Join(s.opts.Root, OverviewFilename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return primitives.FromOS("remove overview", s.OverviewPath(), err)
	}
	return nil
}
