package preprocess

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	chunkcache "github.com/maxsupermanhd/SlideChunk/chunkCache"
	"github.com/maxsupermanhd/SlideChunk/primitives"
	tilecodec "github.com/maxsupermanhd/SlideChunk/tileCodec"
	workerpool "github.com/maxsupermanhd/SlideChunk/workerPool"
)

func writePNG(t *testing.T, w, h int) (string, *image.NRGBA) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	p := filepath.Join(t.TempDir(), "slide.png")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return p, img
}

func newPipeline(t *testing.T, runner TaskRunner, opts Options) (*Pipeline, *chunkcache.Store) {
	t.Helper()
	store := chunkcache.New(nil, chunkcache.Options{
		Root:             filepath.Join(t.TempDir(), "chunk_cache"),
		MmapWrites:       true,
		VerifySourceStat: true,
	})
	return New(nil, store, runner, opts), store
}

func TestRunWritesEveryChunk(t *testing.T) {
	src, img := writePNG(t, 10, 7)
	pool := workerpool.New(nil, 3, 4)
	defer pool.Close()
	p, store := newPipeline(t, pool, Options{TileWidth: 4, TileHeight: 3, OverviewSize: 4})

	var mu sync.Mutex
	var phases []Phase
	p.OnProgress(func(pr Progress) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != pr.Phase {
			phases = append(phases, pr.Phase)
		}
	})

	m, err := p.Run(src)
	if err != nil {
		t.Fatal(err)
	}
	if m.ColCount != 3 || m.RowCount != 3 || len(m.Tiles) != 9 {
		t.Fatalf("unexpected grid %dx%d with %d chunks", m.ColCount, m.RowCount, len(m.Tiles))
	}
	for _, c := range m.Tiles {
		b, err := store.ReadTile(c.Col, c.Row)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b, tilecodec.Encode(c, tilecodec.Extract(img, c))) {
			t.Fatalf("chunk %s content differs", c)
		}
	}
	if !store.ExistsFor(src) {
		t.Fatal("cache not valid after a successful run")
	}
	stored, err := store.ReadMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if stored.TotalWidth != 10 || len(stored.Tiles) != 9 {
		t.Fatalf("stored metadata %+v", stored)
	}
	ov, err := store.ReadOverview()
	if err != nil {
		t.Fatal(err)
	}
	ovImg, err := png.Decode(bytes.NewReader(ov))
	if err != nil {
		t.Fatal(err)
	}
	if b := ovImg.Bounds(); b.Dx() > 4 || b.Dy() > 4 {
		t.Fatalf("overview is %v, want at most 4 px", b)
	}
	want := []Phase{PhaseDecode, PhaseTiles, PhaseCommit, PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("phases %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases %v, want %v", phases, want)
		}
	}
}

// failingRunner runs tasks inline and fails the chosen indices without running them.
type failingRunner struct {
	fail map[int]error
}

func (r failingRunner) Map(n int, fn func(int) error) []error {
	errs := make([]error, n)
	for i := n - 1; i >= 0; i-- {
		if err, ok := r.fail[i]; ok {
			errs[i] = err
			continue
		}
		errs[i] = fn(i)
	}
	return errs
}

func TestRunReportsFirstFailedChunk(t *testing.T) {
	src, _ := writePNG(t, 10, 7)
	disk := errors.New("disk full")
	p, store := newPipeline(t, failingRunner{fail: map[int]error{5: disk, 2: disk}}, Options{TileWidth: 4, TileHeight: 3})
	_, err := p.Run(src)
	var terr *primitives.TileError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v, want a chunk error", err)
	}
	if terr.Index != 2 || terr.Tile.Col != 2 || terr.Tile.Row != 0 || !errors.Is(err, disk) {
		t.Fatalf("got %v, want chunk 2 (2, 0)", err)
	}
	if store.ExistsFor(src) {
		t.Fatal("failed run produced a valid cache")
	}
	if _, err := store.ReadTile(0, 0); err != nil {
		t.Fatalf("chunks from successful tasks should stay on disk: %v", err)
	}
}

func TestRunInvalidatesPreviousCache(t *testing.T) {
	src, _ := writePNG(t, 8, 8)
	p, store := newPipeline(t, failingRunner{}, Options{TileWidth: 4, TileHeight: 4})
	if _, err := p.Run(src); err != nil {
		t.Fatal(err)
	}
	p.runner = failingRunner{fail: map[int]error{0: errors.New("boom")}}
	if _, err := p.Run(src); err == nil {
		t.Fatal("expected failure")
	}
	if store.ExistsFor(src) {
		t.Fatal("previous descriptors survived a failed rebuild")
	}
}

func TestRunSourceErrors(t *testing.T) {
	p, _ := newPipeline(t, failingRunner{}, Options{})
	if _, err := p.Run(filepath.Join(t.TempDir(), "nope.png")); !errors.Is(err, primitives.ErrNotFound) {
		t.Fatalf("missing source gave %v", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.png")
	os.WriteFile(bad, []byte("garbage"), 0644)
	if _, err := p.Run(bad); !errors.Is(err, primitives.ErrDecode) {
		t.Fatalf("garbage source gave %v", err)
	}
}

func TestOverviewKeepsSmallImages(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	if Overview(img, 16) != image.Image(img) {
		t.Fatal("small image should not be resized")
	}
	big := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	if b := Overview(big, 10).Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Fatalf("overview bounds %v", b)
	}
}
