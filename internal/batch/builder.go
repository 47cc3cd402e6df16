package batch

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/archivecore/archivecore"
)

// Builder accumulates records into one Arrow batch at a time. It is not
// safe for concurrent use; callers running multiple workers give each
// worker its own Builder (see internal/extract) and serialize only at the
// Output Writer.
type Builder struct {
	mem      memory.Allocator
	onlyText bool
	unique   bool
	schema   *arrow.Schema

	source      *array.StringBuilder
	path        *array.StringBuilder
	size        *array.Uint64Builder
	hash        *array.FixedSizeBinaryBuilder
	contentBin  *array.BinaryBuilder
	contentText *array.StringBuilder

	seen      map[archivecore.Hash]struct{}
	attempted int
	deduped   uint64
}

// New returns a Builder for a run configured with the given content
// encoding and in-batch dedup policy.
func New(onlyText, unique bool) *Builder {
	mem := memory.NewGoAllocator()
	b := &Builder{
		mem:      mem,
		onlyText: onlyText,
		unique:   unique,
		schema:   Schema(onlyText),
		source:   array.NewStringBuilder(mem),
		path:     array.NewStringBuilder(mem),
		size:     array.NewUint64Builder(mem),
		hash:     array.NewFixedSizeBinaryBuilder(mem, &arrow.FixedSizeBinaryType{ByteWidth: archivecore.HashSize}),
	}
	if onlyText {
		b.contentText = array.NewStringBuilder(mem)
	} else {
		b.contentBin = array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	}
	if unique {
		b.seen = make(map[archivecore.Hash]struct{})
	}
	return b
}

// Schema returns the schema this Builder's batches are built against.
func (b *Builder) Schema() *arrow.Schema { return b.schema }

// Append adds one record to the batch. If the builder's dedup policy is
// enabled and an identical-content row has already been appended within
// this batch, the row is dropped and the in-batch dedup counter is
// incremented instead, rather than emitting a null hash and filtering
// downstream.
//
// Append reports whether the batch has reached [Capacity] and should be
// flushed.
func (b *Builder) Append(rec archivecore.Record) (full bool) {
	h := archivecore.SumHash(rec.Content)
	b.attempted++

	if b.unique {
		if _, dup := b.seen[h]; dup {
			b.deduped++
			return b.attempted >= Capacity
		}
		b.seen[h] = struct{}{}
	}

	b.source.Append(rec.Source)
	b.path.Append(rec.Path)
	b.size.Append(rec.Size)
	b.hash.Append(h[:])
	if b.onlyText {
		b.contentText.Append(string(rec.Content))
	} else {
		b.contentBin.Append(rec.Content)
	}
	return b.attempted >= Capacity
}

// Len reports how many rows have been attempted since the last Flush,
// including any suppressed in-batch duplicates.
func (b *Builder) Len() int { return b.attempted }

// Result is one finalized batch plus the in-batch dedup count removed
// while building it.
type Result struct {
	Record       arrow.Record
	Deduplicated uint64
}

// Flush finalizes the buffered rows into an arrow.Record and resets the
// Builder for the next batch. ok is false if there was nothing to flush.
//
// The caller owns the returned Record and must call Release on it once
// done (typically after handing it to the Output Writer).
func (b *Builder) Flush() (res Result, ok bool) {
	if b.attempted == 0 {
		return Result{}, false
	}

	sourceArr := b.source.NewArray()
	defer sourceArr.Release()
	pathArr := b.path.NewArray()
	defer pathArr.Release()
	sizeArr := b.size.NewArray()
	defer sizeArr.Release()
	hashArr := b.hash.NewArray()
	defer hashArr.Release()

	var contentArr arrow.Array
	if b.onlyText {
		contentArr = b.contentText.NewArray()
	} else {
		contentArr = b.contentBin.NewArray()
	}
	defer contentArr.Release()

	cols := []arrow.Array{sourceArr, pathArr, sizeArr, hashArr, contentArr}
	rec := array.NewRecord(b.schema, cols, int64(sourceArr.Len()))

	res = Result{Record: rec, Deduplicated: b.deduped}
	b.attempted = 0
	b.deduped = 0
	if b.unique {
		b.seen = make(map[archivecore.Hash]struct{})
	}
	return res, true
}

// Release frees the builder's underlying buffers without finalizing a
// batch. Used to discard a half-filled builder on shutdown.
func (b *Builder) Release() {
	b.source.Release()
	b.path.Release()
	b.size.Release()
	b.hash.Release()
	if b.onlyText {
		b.contentText.Release()
	} else {
		b.contentBin.Release()
	}
}
