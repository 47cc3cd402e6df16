// Package process implements the per-entry decision chain: size gating,
// content buffering, the UTF-8 text gate, conditional recursive descent
// into nested archives, and emission into a batch.Builder.
//
// The buffer-reuse idiom (one scratch bytes.Buffer, reset and reused
// across entries rather than allocated per entry) is grounded on
// java/jar/jar.go's extractInner in claircore, which reuses a
// single buffer across the files of one jar for the same reason: entries
// are processed one at a time and the buffer's backing array only grows.
package process

import (
	"bytes"
	"context"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/archivecore/archivecore"
	"github.com/archivecore/archivecore/internal/batch"
	"github.com/archivecore/archivecore/internal/sniff"
	"github.com/archivecore/archivecore/internal/walk"
)

// Recurse is called by a Processor when an entry's content sniffs as a
// nested supported archive and the run's Config still permits descent. It
// returns the aggregate Counts produced by walking that nested archive.
//
// Recurse is a callback rather than a direct dependency on an extraction
// package to avoid an import cycle: internal/extract owns the recursive
// extraction logic and constructs a Processor passing a closure that
// re-enters its processStream as this callback.
type Recurse func(ctx context.Context, label string, cfg archivecore.Config, r io.Reader) (archivecore.Counts, error)

// Processor applies one run's Config to a sequence of walk.Entry values
// from a single container, feeding surviving entries into a batch.Builder.
//
// A Processor is not safe for concurrent use. The orchestrator gives each
// worker its own Processor (and Builder).
type Processor struct {
	cfg     archivecore.Config
	recurse Recurse
	scratch bytes.Buffer
}

// New returns a Processor bound to cfg and, if recursion is possible at
// all (cfg.MaxDepth != nil), the given Recurse callback.
func New(cfg archivecore.Config, recurse Recurse) *Processor {
	return &Processor{cfg: cfg, recurse: recurse}
}

// Entry runs the full per-entry decision chain for one walk.Entry
// belonging to the container labeled source, appending at most one record
// to b and, if the entry recurses, folding the nested run's Counts into
// the returned value.
func (p *Processor) Entry(ctx context.Context, source string, e walk.Entry, b *batch.Builder) (archivecore.Counts, error) {
	size := uint64(e.Size)
	if size == 0 || size < p.cfg.MinSize || (p.cfg.MaxSize != nil && size > *p.cfg.MaxSize) {
		io.Copy(io.Discard, e.Reader)
		return archivecore.Counts{Read: 1, Skipped: 1}, nil
	}

	p.scratch.Reset()
	if _, err := io.Copy(&p.scratch, e.Reader); err != nil {
		return archivecore.Counts{Read: 1}, &archivecore.Error{Op: "process.Entry", Kind: archivecore.ErrIO, Inner: err}
	}
	// Copy out of the scratch buffer: its backing array is reused by the
	// next entry, so anything retained past this call (a record handed to
	// b, or bytes handed to a nested Recurse) needs its own storage.
	content := append([]byte(nil), p.scratch.Bytes()...)

	if p.recurse != nil && p.cfg.CanRecurse() {
		format, _, err := sniff.Sniff(bytes.NewReader(content), p.cfg.MinSize)
		if err != nil {
			return archivecore.Counts{Read: 1}, err
		}
		switch format {
		case sniff.Tar, sniff.TarGz, sniff.Zip:
			// A container entry that's recursed into doesn't itself count
			// toward Read: its child rows contribute to Read instead (see
			// Counts.Read's doc comment).
			label := source + "/" + e.Path
			nested := p.cfg.Recursed()
			return p.recurse(ctx, label, nested, bytes.NewReader(content))
		}
	}

	if p.cfg.OnlyText {
		if !utf8.Valid(content) {
			return archivecore.Counts{Read: 1, Skipped: 1}, nil
		}
		// Strip a leading UTF-8 (or mis-declared UTF-16) byte order mark
		// before storing decoded text, so the text column never carries a
		// stray U+FEFF. BOMOverride passes content through unchanged when
		// no BOM is present.
		if decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), content); err == nil {
			content = decoded
		}
	}

	rec := archivecore.Record{
		Source:  source,
		Path:    e.Path,
		Size:    size,
		Content: content,
	}
	// Whether this row is ultimately Written or Deduplicated is only
	// decided once the batch is flushed (in-batch dedup) and handed to the
	// Output Writer (cross-batch dedup); the caller folds those outcomes
	// into its running Counts itself rather than have Entry guess here.
	b.Append(rec)
	return archivecore.Counts{Read: 1}, nil
}
