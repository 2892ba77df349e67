package preprocess

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"sync/atomic"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	chunkcache "github.com/maxsupermanhd/SlideChunk/chunkCache"
	chunkgrid "github.com/maxsupermanhd/SlideChunk/chunkGrid"
	"github.com/maxsupermanhd/SlideChunk/primitives"
	sourceimage "github.com/maxsupermanhd/SlideChunk/sourceImage"
	tilecodec "github.com/maxsupermanhd/SlideChunk/tileCodec"
	"github.com/maxsupermanhd/lac"
)

const DefaultOverviewSize = 512

// TaskRunner fans out n independent tasks and returns their errors by index.
type TaskRunner interface {
	Map(n int, fn func(i int) error) []error
}

type Options struct {
	TileWidth  uint32
	TileHeight uint32
	// OverviewSize is the longest side of overview.png, 0 disables it.
	OverviewSize int
}

func OptionsFromConfig(cfg *lac.ConfSubtree) Options {
	return Options{
		TileWidth:    uint32(gtzero(cfg, int(chunkgrid.DefaultTileWidth), "tile_width")),
		TileHeight:   uint32(gtzero(cfg, int(chunkgrid.DefaultTileHeight), "tile_height")),
		OverviewSize: max(cfg.GetDSInt(DefaultOverviewSize, "overview_size"), 0),
	}
}

func gtzero(c *lac.ConfSubtree, d int, p ...string) int {
	v := c.GetDSInt(d, p...)
	if v > 0 {
		return v
	}
	log.Printf("Negative %v, defaulting to %d!", p, d)
	return d
}

type Phase string

const (
	PhaseDecode Phase = "decode"
	PhaseTiles  Phase = "chunks"
	PhaseCommit Phase = "commit"
	PhaseDone   Phase = "done"
	PhaseFailed Phase = "failed"
)

type Progress struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Phase  Phase  `json:"phase"`
	Done   int    `json:"done"`
	Total  int    `json:"total"`
	Error  string `json:"error,omitempty"`
}

type Pipeline struct {
	logger   *log.Logger
	store    *chunkcache.Store
	runner   TaskRunner
	opts     Options
	progress func(Progress)
}

func New(logger *log.Logger, store *chunkcache.Store, runner TaskRunner, opts Options) *Pipeline {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.TileWidth == 0 {
		opts.TileWidth = chunkgrid.DefaultTileWidth
	}
	if opts.TileHeight == 0 {
		opts.TileHeight = chunkgrid.DefaultTileHeight
	}
	return &Pipeline{
		logger:   logger,
		store:    store,
		runner:   runner,
		opts:     opts,
		progress: func(Progress) {},
	}
}

// OnProgress sets the progress callback. It is called from worker goroutines.
func (p *Pipeline) OnProgress(fn func(Progress)) {
	if fn == nil {
		fn = func(Progress) {}
	}
	p.progress = fn
}

func (p *Pipeline) Options() Options {
	return p.opts
}

// Run decodes sourcePath, writes every chunk file and commits metadata and
// source info last. Chunk files written before a failure are left in place,
// the cache stays invalid until a successful run.
func (p *Pipeline) Run(sourcePath string) (primitives.ImageMetadata, error) {
	runID := uuid.NewString()
	l := log.New(p.logger.Writer(), p.logger.Prefix()+"["+runID[:8]+"] ", p.logger.Flags())
	report := func(phase Phase, done, total int, err error) {
		pr := Progress{RunID: runID, Source: sourcePath, Phase: phase, Done: done, Total: total}
		if err != nil {
			pr.Error = err.Error()
		}
		p.progress(pr)
	}
	m, err := p.run(l, sourcePath, report)
	if err != nil {
		l.Printf("Preprocessing %q failed: %v", sourcePath, err)
		report(PhaseFailed, 0, len(m.Tiles), err)
		return primitives.ImageMetadata{}, err
	}
	return m, nil
}

func (p *Pipeline) run(l *log.Logger, sourcePath string, report func(Phase, int, int, error)) (primitives.ImageMetadata, error) {
	start := time.Now()
	l.Printf("Preprocessing %q into %s", sourcePath, p.store.Root())

	size, mtime, err := sourceimage.Stat(sourcePath)
	if err != nil {
		return primitives.ImageMetadata{}, err
	}

	report(PhaseDecode, 0, 0, nil)
	decodeStart := time.Now()
	img, format, err := sourceimage.Decode(sourcePath)
	if err != nil {
		return primitives.ImageMetadata{}, err
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	l.Printf("Decoded %s %dx%d (%s) in %s", format, w, h, humanize.Bytes(uint64(len(img.Pix))), time.Since(decodeStart))

	m := chunkgrid.Plan(uint32(w), uint32(h), p.opts.TileWidth, p.opts.TileHeight)
	l.Printf("Chunk grid %dx%d of %dx%d", m.ColCount, m.RowCount, m.TileWidth, m.TileHeight)

	if err := p.store.Ensure(); err != nil {
		return m, err
	}
	if err := p.store.Invalidate(); err != nil {
		return m, err
	}

	total := len(m.Tiles)
	report(PhaseTiles, 0, total, nil)
	fanoutStart := time.Now()
	var done atomic.Int64
	errs := p.runner.Map(total, func(i int) error {
		c := m.Tiles[i]
		err := p.store.WriteTileFunc(c, func(dst []byte) {
			tilecodec.ExtractInto(dst, img, c)
		})
		report(PhaseTiles, int(done.Add(1)), total, nil)
		return err
	})
	if err := firstTileError(l, m, errs); err != nil {
		return m, err
	}
	written := uint64(0)
	for _, c := range m.Tiles {
		written += uint64(tilecodec.FileSize(c))
	}
	l.Printf("Wrote %d chunks (%s) in %s", total, humanize.Bytes(written), time.Since(fanoutStart))

	report(PhaseCommit, total, total, nil)
	if err := p.writeOverview(l, img); err != nil {
		l.Printf("Overview not written: %v", err)
	}
	if err := p.store.WriteMetadata(m); err != nil {
		return m, err
	}
	id := primitives.IdentityFromMetadata(sourcePath, m)
	id.SourceSize, id.SourceModTime = size, mtime
	if err := p.store.WriteIdentity(id); err != nil {
		return m, err
	}
	if err := p.store.RemoveStrayTiles(m); err != nil {
		l.Printf("Failed to remove stray chunks: %v", err)
	}
	l.Printf("Preprocessing %q done in %s, %d chunks", sourcePath, time.Since(start), total)
	report(PhaseDone, total, total, nil)
	return m, nil
}

// firstTileError logs every failed chunk and returns the lowest index one.
func firstTileError(l *log.Logger, m primitives.ImageMetadata, errs []error) error {
	var all error
	var first error
	for i, err := range errs {
		if err == nil {
			continue
		}
		all = multierror.Append(all, fmt.Errorf("chunk %d: %w", i, err))
		if first == nil {
			first = &primitives.TileError{Index: i, Tile: m.Tiles[i], Err: err}
		}
	}
	var merr *multierror.Error
	if errors.As(all, &merr) && merr.Len() > 1 {
		l.Printf("%d of %d chunks failed: %v", merr.Len(), len(errs), merr)
	}
	return first
}

func (p *Pipeline) writeOverview(l *log.Logger, img *image.NRGBA) error {
	if p.opts.OverviewSize <= 0 {
		return p.store.RemoveOverview()
	}
	start := time.Now()
	ov := Overview(img, p.opts.OverviewSize)
	if err := p.store.WriteOverview(ov); err != nil {
		return err
	}
	l.Printf("Overview %dx%d written in %s", ov.Bounds().Dx(), ov.Bounds().Dy(), time.Since(start))
	return nil
}
