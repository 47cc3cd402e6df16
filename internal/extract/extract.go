// Package extract implements the orchestrator: a bounded worker pool that
// drains an Input Registry, walks each input's entries through an Entry
// Processor, and funnels finished batches into a shared Output Writer —
// recursing into nested archives by re-entering the same pipeline.
//
// The worker pool shape — launch one goroutine per unit of work
// immediately, gate actual concurrency with a weighted semaphore, and
// propagate the first error through an errgroup-derived Context — is
// grounded on indexer/layerscanner/layerscanner.go's layerScanner.Scan in
// claircore.
package extract

import (
	"context"
	"io"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/archivecore/archivecore"
	"github.com/archivecore/archivecore/internal/batch"
	"github.com/archivecore/archivecore/internal/metrics"
	"github.com/archivecore/archivecore/internal/process"
	"github.com/archivecore/archivecore/internal/registry"
	"github.com/archivecore/archivecore/internal/sink"
	"github.com/archivecore/archivecore/internal/sniff"
	"github.com/archivecore/archivecore/internal/walk"
)

// Progress is called once per top-level registered Input as it finishes,
// reporting that input's own Counts (not the running total) and any error
// that caused it to stop early. A nil Progress is always safe to pass.
type Progress func(label string, c archivecore.Counts, err error)

// Run drains reg's inputs through cfg.Threads concurrent workers, writing
// every surviving record to w, and returns the aggregate Counts across the
// whole run (including every level of recursive descent). If progress is
// non-nil it's called once per top-level input as that input finishes.
//
// Run launches all of reg's inputs as goroutines immediately and lets a
// semaphore gate how many run at once, so that one slow input can't starve
// the others out of their turn the way a strict batch-of-N dispatch would.
func Run(ctx context.Context, cfg archivecore.Config, reg *registry.Registry, w *sink.Writer, progress Progress) (archivecore.Counts, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "extract.Run")

	inputs := reg.Inputs()
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	sem := semaphore.NewWeighted(int64(threads))
	g, ctx := errgroup.WithContext(ctx)

	results := make([]archivecore.Counts, len(inputs))
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			c, err := runInput(ctx, cfg, in, w)
			if progress != nil {
				progress(in.Label, c, err)
			}
			if err != nil {
				return &archivecore.Error{Op: "extract.Run", Kind: errKind(err), Inner: err, Message: in.Label}
			}
			results[i] = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return archivecore.Counts{}, err
	}

	var total archivecore.Counts
	for _, c := range results {
		total = total.Add(c)
	}
	metrics.Observe(total)
	return total, nil
}

func errKind(err error) archivecore.ErrorKind {
	if ae, ok := err.(*archivecore.Error); ok {
		return ae.Kind
	}
	return archivecore.ErrIO
}

// runInput opens one registered Input and runs it through the extraction
// pipeline, honoring cfg.IgnoreUnsupported for top-level inputs that don't
// sniff as a supported container.
func runInput(ctx context.Context, cfg archivecore.Config, in registry.Input, w *sink.Writer) (archivecore.Counts, error) {
	ctx = zlog.ContextWithValues(ctx, "input", in.Label)

	rc, err := in.Open()
	if err != nil {
		return archivecore.Counts{}, &archivecore.Error{Op: "extract.runInput", Kind: archivecore.ErrIO, Inner: err}
	}
	defer rc.Close()

	return processStream(ctx, cfg, in.Label, rc, w)
}

// processStream sniffs, walks, and processes one container stream labeled
// source, recursing into nested archives by calling itself again. It's the
// unit shared by top-level inputs and by process.Recurse callbacks.
func processStream(ctx context.Context, cfg archivecore.Config, source string, r io.Reader, w *sink.Writer) (archivecore.Counts, error) {
	var counts archivecore.Counts

	format, sr, err := sniff.Sniff(r, cfg.MinSize)
	if err != nil {
		return counts, err
	}
	switch format {
	case sniff.Empty:
		return counts, nil
	case sniff.Unsupported, sniff.Unknown:
		if cfg.IgnoreUnsupported {
			zlog.Debug(ctx).Msg("ignoring unsupported input")
			return counts, nil
		}
		return counts, &archivecore.Error{Op: "extract.processStream", Kind: archivecore.ErrUnsupported, Message: source}
	}

	it, err := walk.New(format, sr)
	if err != nil {
		return counts, err
	}
	defer it.Close()

	b := batch.New(cfg.OnlyText, cfg.Unique)
	defer b.Release()

	recurse := func(ctx context.Context, label string, nestedCfg archivecore.Config, nr io.Reader) (archivecore.Counts, error) {
		return processStream(ctx, nestedCfg, label, nr, w)
	}
	proc := process.New(cfg, recurse)

	for it.Next() {
		c, err := proc.Entry(ctx, source, it.Entry(), b)
		if err != nil {
			return counts, err
		}
		counts = counts.Add(c)

		if b.Len() >= batch.Capacity {
			if err := flushTo(ctx, b, w, &counts); err != nil {
				return counts, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return counts, err
	}
	counts.Skipped += it.Skipped()

	if err := flushTo(ctx, b, w, &counts); err != nil {
		return counts, err
	}
	return counts, nil
}

// flushTo flushes b (a no-op if empty) and hands the result to w, folding
// the outcome into counts.
func flushTo(ctx context.Context, b *batch.Builder, w *sink.Writer, counts *archivecore.Counts) error {
	res, ok := b.Flush()
	if !ok {
		return nil
	}
	defer res.Record.Release()

	written, deduped, err := w.Write(ctx, res.Record)
	if err != nil {
		return err
	}
	counts.Written += written
	counts.Deduplicated += deduped + res.Deduplicated
	return nil
}
