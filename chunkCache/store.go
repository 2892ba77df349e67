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

package chunkcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/maxsupermanhd/SlideChunk/primitives"
	sourceimage "github.com/maxsupermanhd/SlideChunk/sourceImage"
	tilecodec "github.com/maxsupermanhd/SlideChunk/tileCodec"
	"github.com/maxsupermanhd/lac"
)

const (
	DefaultRoot        = "chunk_cache"
	SourceInfoFilename = "source_info.json"
	MetadataFilename   = "metadata.json"
	OverviewFilename   = "overview.png"
	chunkPrefix        = "chunk_"
	chunkSuffix        = ".bin"
)

var errMmapUnsupported = errors.New("memory mapped writes are not supported on this platform")

type Options struct {
	Root string
	// MmapWrites maps chunk files for writing where the platform allows it.
	MmapWrites bool
	// VerifySourceStat makes ExistsFor compare source size and mtime too.
	VerifySourceStat bool
}

// Store owns one cache directory holding chunks of a single source image.
type Store struct {
	logger *log.Logger
	opts   Options
}

func New(logger *log.Logger, opts Options) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.Root == "" {
		opts.Root = DefaultRoot
	}
	return &Store{
		logger: logger,
		opts:   opts,
	}
}

func NewFromConfig(logger *log.Logger, cfg *lac.ConfSubtree) *Store {
	return New(logger, Options{
		Root:             cfg.GetDSString(DefaultRoot, "root"),
		MmapWrites:       cfg.GetDSBool(true, "mmap_writes"),
		VerifySourceStat: cfg.GetDSBool(true, "verify_source_stat"),
	})
}

func (s *Store) Root() string {
	return s.opts.Root
}

func (s *Store) TilePath(col, row uint32) string {
	return filepath.Join(s.opts.Root, fmt.Sprintf("%s%d_%d%s", chunkPrefix, col, row, chunkSuffix))
}

func (s *Store) sourceInfoPath() string {
	return filepath.Join(s.opts.Root, SourceInfoFilename)
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.opts.Root, MetadataFilename)
}

func (s *Store) OverviewPath() string {
	return filepath.Join(s.opts.Root, OverviewFilename)
}

// Ensure creates the cache directory if it is absent.
func (s *Store) Ensure() error {
	return primitives.FromOS("create cache directory", s.opts.Root, os.MkdirAll(s.opts.Root, 0755))
}

// ExistsFor reports whether the whole cache belongs to sourcePath: identity
// matches, metadata is present and at least one chunk file exists.
func (s *Store) ExistsFor(sourcePath string) bool {
	id, err := s.ReadIdentity()
	if err != nil {
		return false
	}
	if id.SourcePath != sourcePath {
		return false
	}
	if s.opts.VerifySourceStat {
		size, mtime, err := sourceimage.Stat(sourcePath)
		if err != nil || id.SourceSize != size || id.SourceModTime != mtime {
			return false
		}
	}
	if _, err := os.Stat(s.metadataPath()); err != nil {
		return false
	}
	return s.hasAnyTile()
}

func (s *Store) hasAnyTile() bool {
	entries, err := os.ReadDir(s.opts.Root)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if isChunkName(e.Name()) {
			return true
		}
	}
	return false
}

func isChunkName(n string) bool {
	return strings.HasPrefix(n, chunkPrefix) && strings.HasSuffix(n, chunkSuffix)
}

func (s *Store) ReadIdentity() (primitives.SourceIdentity, error) {
	var id primitives.SourceIdentity
	return id, s.readJSON("read source info", s.sourceInfoPath(), &id)
}

func (s *Store) ReadMetadata() (primitives.ImageMetadata, error) {
	var m primitives.ImageMetadata
	return m, s.readJSON("read metadata", s.metadataPath(), &m)
}

func (s *Store) WriteIdentity(id primitives.SourceIdentity) error {
	return s.writeJSON("write source info", s.sourceInfoPath(), id)
}

func (s *Store) WriteMetadata(m primitives.ImageMetadata) error {
	return s.writeJSON("write metadata", s.metadataPath(), m)
}

func (s *Store) readJSON(op, fp string, v any) error {
	b, err := os.ReadFile(fp)
	if err != nil {
		return primitives.FromOS(op, fp, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return primitives.NewError(primitives.ErrFormat, op, fp, err)
	}
	return nil
}

func (s *Store) writeJSON(op, fp string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return primitives.NewError(primitives.ErrFormat, op, fp, err)
	}
	return s.writeFileAtomic(op, fp, b)
}

// writeFileAtomic replaces fp through a renamed temp file so readers never
// see a half written descriptor.
func (s *Store) writeFileAtomic(op, fp string, b []byte) error {
	tmp := fp + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return primitives.FromOS(op, tmp, err)
	}
	if err := os.Rename(tmp, fp); err != nil {
		os.Remove(tmp)
		return primitives.FromOS(op, fp, err)
	}
	return nil
}

// Invalidate drops the descriptors so ExistsFor is false until the next commit.
func (s *Store) Invalidate() error {
	var errs error
	for _, fp := range []string{s.sourceInfoPath(), s.metadataPath()} {
		if err := os.Remove(fp); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierror.Append(errs, primitives.FromOS("invalidate cache", fp, err))
		}
	}
	return errs
}

// ReadTile returns the raw chunk file.
func (s *Store) ReadTile(col, row uint32) ([]byte, error) {
	fp := s.TilePath(col, row)
	b, err := os.ReadFile(fp)
	if err != nil {
		return nil, primitives.FromOS("read chunk", fp, err)
	}
	return b, nil
}

// WriteTile writes header and pixels of one chunk file.
func (s *Store) WriteTile(t primitives.TileDescriptor, pixels []byte) error {
	if len(pixels) != t.PixelBytes() {
		return primitives.NewError(primitives.ErrFormat, "write chunk", s.TilePath(t.Col, t.Row),
			fmt.Errorf("got %d pixel bytes for %dx%d", len(pixels), t.Width, t.Height))
	}
	return s.WriteTileFunc(t, func(dst []byte) {
		copy(dst, pixels)
	})
}

// WriteTileFunc creates the chunk file at its final size and lets fill write
// the pixel payload straight into it, then flushes to disk.
func (s *Store) WriteTileFunc(t primitives.TileDescriptor, fill func(dst []byte)) error {
	fp := s.TilePath(t.Col, t.Row)
	size := tilecodec.FileSize(t)
	f, err := os.OpenFile(fp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return primitives.FromOS("create chunk", fp, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return primitives.FromOS("size chunk", fp, err)
	}
	fillAll := func(b []byte) {
		tilecodec.PutHeader(b, t.Width, t.Height)
		fill(b[tilecodec.HeaderSize:])
	}
	if s.opts.MmapWrites {
		err = writeMapped(f, int(size), fillAll)
		if err == nil {
			return primitives.FromOS("close chunk", fp, f.Close())
		}
		if !errors.Is(err, errMmapUnsupported) {
			return primitives.FromOS("map chunk", fp, err)
		}
	}
	buf := make([]byte, size)
	fillAll(buf)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return primitives.FromOS("write chunk", fp, err)
	}
	if err := f.Sync(); err != nil {
		return primitives.FromOS("sync chunk", fp, err)
	}
	return primitives.FromOS("close chunk", fp, f.Close())
}

// RemoveStrayTiles deletes chunk files that are not part of m, left over
// from an earlier build with a different grid.
func (s *Store) RemoveStrayTiles(m primitives.ImageMetadata) error {
	keep := make(map[string]bool, len(m.Tiles))
	for _, t := range m.Tiles {
		keep[filepath.Base(s.TilePath(t.Col, t.Row))] = true
	}
	entries, err := os.ReadDir(s.opts.Root)
	if err != nil {
		return primitives.FromOS("list cache", s.opts.Root, err)
	}
	var errs error
	removed := 0
	for _, e := range entries {
		if !isChunkName(e.Name()) || keep[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(s.opts.Root, e.Name())); err != nil {
			errs = multierror.Append(errs, primitives.FromOS("remove stray chunk", e.Name(), err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Printf("Removed %d stray chunk files from %s", removed, s.opts.Root)
	}
	return errs
}
