// Package copier copies a world's metadata file and a selected set of tile
// files from a source tree into a fresh target tree on a background
// goroutine, reporting progress as it goes.
package copier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/blake3"
	"golang.org/x/time/rate"

	"github.com/mattjoyce/worldclone/internal/region"
)

// Layout describes where files live inside a world tree.
type Layout struct {
	MetadataFile string
	TileDir      string
	TileExt      string
}

// DefaultLayout is the stock world layout: level.dat plus region/r.X.Z.mca.
func DefaultLayout() Layout {
	return Layout{
		MetadataFile: "level.dat",
		TileDir:      "region",
		TileExt:      "mca",
	}
}

func (l Layout) MetadataPath(root string) string {
	return filepath.Join(root, l.MetadataFile)
}

func (l Layout) TilePath(root string, c region.Coord) string {
	return filepath.Join(root, l.TileDir, c.FileName(l.TileExt))
}

// Flusher asks the live owner of a source tree to write pending state to
// disk. It is called from the copy goroutine before any file is read.
type Flusher interface {
	Flush(ctx context.Context, sourceRoot string) error
}

var (
	errSourceMissing = errors.New("source file missing")
	errChecksum      = errors.New("checksum mismatch")
)

// Pipeline runs copy jobs.
type Pipeline struct {
	layout           Layout
	flusher          Flusher
	sink             Sink
	copyDelay        time.Duration
	progressInterval time.Duration
	verify           bool
	logger           *slog.Logger
}

type Option func(*Pipeline)

func WithFlusher(f Flusher) Option { return func(p *Pipeline) { p.flusher = f } }

func WithSink(s Sink) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sink = s
		}
	}
}

// WithCopyDelay paces tile copies at most one per d.
func WithCopyDelay(d time.Duration) Option { return func(p *Pipeline) { p.copyDelay = d } }

// WithProgressInterval enables the periodic progress re-send.
func WithProgressInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.progressInterval = d }
}

// WithVerify re-hashes every written file against its source with BLAKE3.
func WithVerify(v bool) Option { return func(p *Pipeline) { p.verify = v } }

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(layout Layout, opts ...Option) *Pipeline {
	p := &Pipeline{
		layout: layout,
		sink:   discardSink{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "copier")
	return p
}

func (p *Pipeline) Layout() Layout { return p.layout }

// Start launches job in the background and returns it. Starting a job twice
// is a no-op; the second caller shares the first run.
func (p *Pipeline) Start(ctx context.Context, job *Job) *Job {
	if !job.started.CompareAndSwap(false, true) {
		return job
	}
	go p.notify(job)
	go func() {
		res := p.run(ctx, job)
		job.sendMu.Lock()
		job.finish(res)
		job.sendMu.Unlock()
	}()
	return job
}

func (p *Pipeline) run(ctx context.Context, job *Job) Result {
	logger := p.logger.With("identity", job.Identity)
	started := time.Now()
	var res Result

	fail := func(kind Kind, err error) Result {
		res.OK = false
		res.Kind = kind
		res.Err = err
		logger.Error("world copy failed",
			"kind", kind,
			"error", err,
			"completed", job.Completed(),
			"total", job.Total(),
		)
		return res
	}

	if p.flusher != nil {
		if err := p.flusher.Flush(ctx, job.SourceRoot); err != nil {
			return fail(KindFlush, fmt.Errorf("flush source %q: %w", job.SourceRoot, err))
		}
	}

	targetTiles := filepath.Join(job.TargetRoot, p.layout.TileDir)
	if err := os.MkdirAll(targetTiles, 0o755); err != nil {
		return fail(KindIO, fmt.Errorf("create target tree: %w", err))
	}

	n, err := p.copyFile(p.layout.MetadataPath(job.SourceRoot), p.layout.MetadataPath(job.TargetRoot))
	switch {
	case errors.Is(err, errSourceMissing):
		return fail(KindMissingMetadata, fmt.Errorf("metadata file %q: %w", p.layout.MetadataFile, err))
	case err != nil:
		return fail(kindOf(err), fmt.Errorf("copy metadata: %w", err))
	}
	res.Bytes += n
	p.advance(job)

	var limiter *rate.Limiter
	if p.copyDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(p.copyDelay), 1)
	}

	for _, c := range job.Tiles.Sorted() {
		if err := ctx.Err(); err != nil {
			return fail(KindInterrupted, fmt.Errorf("world copy interrupted: %w", err))
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fail(KindInterrupted, fmt.Errorf("world copy interrupted: %w", err))
			}
		}

		n, err := p.copyFile(p.layout.TilePath(job.SourceRoot, c), p.layout.TilePath(job.TargetRoot, c))
		switch {
		case errors.Is(err, errSourceMissing):
			res.Skipped++
		case err != nil:
			return fail(kindOf(err), fmt.Errorf("copy tile %s: %w", c, err))
		default:
			res.Copied++
			res.Bytes += n
		}
		p.advance(job)
	}

	res.OK = true
	logger.Info("world copy complete",
		"tiles_copied", res.Copied,
		"tiles_skipped", res.Skipped,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res
}

func kindOf(err error) Kind {
	if errors.Is(err, errChecksum) {
		return KindChecksum
	}
	return KindIO
}

// copyFile writes src to dst through a temporary sibling, keeping the
// source's permissions and modification time. It returns errSourceMissing
// when src does not exist.
func (p *Pipeline) copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, errSourceMissing
		}
		return 0, fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %q: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%q is not a regular file", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("create temp for %q: %w", dst, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var (
		w      io.Writer = tmp
		hasher *blake3.Hasher
	)
	if p.verify {
		hasher = blake3.New()
		w = io.MultiWriter(tmp, hasher)
	}

	n, err := io.Copy(w, in)
	if err != nil {
		return 0, fmt.Errorf("copy %q: %w", src, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %q: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("chmod %q: %w", tmpPath, err)
	}
	if err := os.Chtimes(tmpPath, info.ModTime(), info.ModTime()); err != nil {
		return 0, fmt.Errorf("chtimes %q: %w", tmpPath, err)
	}

	if hasher != nil {
		if err := verifyFile(tmpPath, hasher.Sum(nil)); err != nil {
			return 0, err
		}
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("rename into %q: %w", dst, err)
	}
	committed = true
	return n, nil
}

func verifyFile(path string, want []byte) error {
	got, err := HashFile(path)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%s: %w", filepath.Base(path), errChecksum)
	}
	return nil
}

// HashFile returns the BLAKE3-256 digest of the file at path.
func HashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %q: %w", path, err)
	}
	return h.Sum(nil), nil
}
