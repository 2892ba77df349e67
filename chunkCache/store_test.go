package chunkcache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	chunkgrid "github.com/maxsupermanhd/SlideChunk/chunkGrid"
	"github.com/maxsupermanhd/SlideChunk/primitives"
	sourceimage "github.com/maxsupermanhd/SlideChunk/sourceImage"
	tilecodec "github.com/maxsupermanhd/SlideChunk/tileCodec"
)

func newTestStore(t *testing.T, mmap, verify bool) *Store {
	t.Helper()
	return New(nil, Options{
		Root:             filepath.Join(t.TempDir(), "chunk_cache"),
		MmapWrites:       mmap,
		VerifySourceStat: verify,
	})
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("source"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

// commit writes a complete single chunk cache for src.
func commit(t *testing.T, s *Store, src string) primitives.ImageMetadata {
	t.Helper()
	m := chunkgrid.Plan(3, 2, 2, 2)
	if err := s.Ensure(); err != nil {
		t.Fatal(err)
	}
	for _, c := range m.Tiles {
		if err := s.WriteTile(c, bytes.Repeat([]byte{byte(c.Col + 1)}, c.PixelBytes())); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.WriteMetadata(m); err != nil {
		t.Fatal(err)
	}
	id := primitives.IdentityFromMetadata(src, m)
	size, mtime, err := sourceimage.Stat(src)
	if err != nil {
		t.Fatal(err)
	}
	id.SourceSize, id.SourceModTime = size, mtime
	if err := s.WriteIdentity(id); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestWriteReadTile(t *testing.T) {
	for _, mmap := range []bool{true, false} {
		s := newTestStore(t, mmap, false)
		if err := s.Ensure(); err != nil {
			t.Fatal(err)
		}
		c := primitives.TileDescriptor{Width: 3, Height: 2, Col: 4, Row: 5}
		pix := make([]byte, c.PixelBytes())
		for i := range pix {
			pix[i] = byte(i)
		}
		if err := s.WriteTile(c, pix); err != nil {
			t.Fatalf("mmap=%v: %v", mmap, err)
		}
		b, err := s.ReadTile(4, 5)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b, tilecodec.Encode(c, pix)) {
			t.Fatalf("mmap=%v: chunk file content differs", mmap)
		}
		if filepath.Base(s.TilePath(4, 5)) != "chunk_4_5.bin" {
			t.Fatalf("unexpected chunk name %s", s.TilePath(4, 5))
		}
	}
}

func TestWriteTileOverwritesLargerFile(t *testing.T) {
	s := newTestStore(t, true, false)
	s.Ensure()
	big := primitives.TileDescriptor{Width: 8, Height: 8}
	small := primitives.TileDescriptor{Width: 1, Height: 1}
	if err := s.WriteTile(big, make([]byte, big.PixelBytes())); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteTile(small, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	b, _ := s.ReadTile(0, 0)
	if int64(len(b)) != tilecodec.FileSize(small) {
		t.Fatalf("chunk file is %d bytes, want %d", len(b), tilecodec.FileSize(small))
	}
}

func TestWriteTileRejectsWrongLength(t *testing.T) {
	s := newTestStore(t, false, false)
	s.Ensure()
	err := s.WriteTile(primitives.TileDescriptor{Width: 2, Height: 2}, []byte{1})
	if !errors.Is(err, primitives.ErrFormat) {
		t.Fatalf("got %v, want format error", err)
	}
}

func TestReadMissingTile(t *testing.T) {
	s := newTestStore(t, false, false)
	if _, err := s.ReadTile(9, 9); !errors.Is(err, primitives.ErrNotFound) {
		t.Fatalf("got %v, want not found", err)
	}
}

func TestExistsForAllOrNothing(t *testing.T) {
	s := newTestStore(t, false, true)
	src := writeSource(t, "a.png")
	if s.ExistsFor(src) {
		t.Fatal("empty cache reported as existing")
	}
	commit(t, s, src)
	if !s.ExistsFor(src) {
		t.Fatal("complete cache reported as missing")
	}
	if s.ExistsFor(src + "x") {
		t.Fatal("cache matched a different path")
	}

	os.Remove(filepath.Join(s.Root(), MetadataFilename))
	if s.ExistsFor(src) {
		t.Fatal("cache without metadata reported as existing")
	}

	commit(t, s, src)
	entries, _ := os.ReadDir(s.Root())
	for _, e := range entries {
		if isChunkName(e.Name()) {
			os.Remove(filepath.Join(s.Root(), e.Name()))
		}
	}
	if s.ExistsFor(src) {
		t.Fatal("cache without chunks reported as existing")
	}
}

func TestExistsForDetectsChangedSource(t *testing.T) {
	s := newTestStore(t, false, true)
	src := writeSource(t, "a.png")
	commit(t, s, src)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(src, future, future); err != nil {
		t.Fatal(err)
	}
	if s.ExistsFor(src) {
		t.Fatal("cache survived a source modification")
	}

	s = newTestStore(t, false, false)
	commit(t, s, src)
	os.Chtimes(src, future.Add(time.Hour), future.Add(time.Hour))
	if !s.ExistsFor(src) {
		t.Fatal("without stat verification only the path should matter")
	}
}

func TestInvalidate(t *testing.T) {
	s := newTestStore(t, false, false)
	src := writeSource(t, "a.png")
	commit(t, s, src)
	if err := s.Invalidate(); err != nil {
		t.Fatal(err)
	}
	if s.ExistsFor(src) {
		t.Fatal("invalidated cache still valid")
	}
	if err := s.Invalidate(); err != nil {
		t.Fatalf("second invalidate: %v", err)
	}
}

func TestClearForIdentityIsolation(t *testing.T) {
	s := newTestStore(t, false, false)
	a := writeSource(t, "a.png")
	b := writeSource(t, "b.png")
	commit(t, s, b)
	r, err := s.ClearFor(a)
	if err != nil || r != ClearMismatch {
		t.Fatalf("ClearFor(other) = %v, %v", r, err)
	}
	if !s.ExistsFor(b) {
		t.Fatal("mismatching clear touched the cache")
	}
	r, err = s.ClearFor(b)
	if err != nil || r != Cleared {
		t.Fatalf("ClearFor(owner) = %v, %v", r, err)
	}
	if _, err := os.Stat(s.Root()); !os.IsNotExist(err) {
		t.Fatalf("cache directory still present: %v", err)
	}
	r, err = s.ClearFor(b)
	if err != nil || r != ClearNothing {
		t.Fatalf("ClearFor on absent cache = %v, %v", r, err)
	}
}

func TestClearAllIdempotent(t *testing.T) {
	s := newTestStore(t, false, false)
	commit(t, s, writeSource(t, "a.png"))
	for i, want := range []ClearResult{Cleared, ClearNothing} {
		r, err := s.ClearAll()
		if err != nil || r != want {
			t.Fatalf("ClearAll #%d = %v, %v, want %v", i, r, err, want)
		}
	}
}

func TestRemoveStrayTiles(t *testing.T) {
	s := newTestStore(t, false, false)
	src := writeSource(t, "a.png")
	commit(t, s, src)
	stray := primitives.TileDescriptor{Width: 1, Height: 1, Col: 7, Row: 7}
	s.WriteTile(stray, make([]byte, 4))
	m, err := s.ReadMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveStrayTiles(m); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReadTile(7, 7); !errors.Is(err, primitives.ErrNotFound) {
		t.Fatalf("stray chunk survived: %v", err)
	}
	if _, err := s.ReadTile(1, 0); err != nil {
		t.Fatalf("grid chunk removed: %v", err)
	}
}

func TestStatsAndCorruptMetadata(t *testing.T) {
	s := newTestStore(t, false, false)
	st, err := s.Stats()
	if err != nil || st.ChunkFiles != 0 {
		t.Fatalf("stats of absent cache: %+v %v", st, err)
	}
	src := writeSource(t, "a.png")
	m := commit(t, s, src)
	st, err = s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.ChunkFiles != len(m.Tiles) || st.Source != src || st.ChunkBytes <= 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	os.WriteFile(filepath.Join(s.Root(), MetadataFilename), []byte("{"), 0644)
	if _, err := s.ReadMetadata(); !errors.Is(err, primitives.ErrFormat) {
		t.Fatalf("corrupt metadata gave %v", err)
	}
}
