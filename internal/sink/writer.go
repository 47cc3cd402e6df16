// Package sink implements the Output Writer: the single mutex-guarded
// destination every extraction worker funnels finished batches through,
// owning the cross-batch dedup set and the run's final Counts.
//
// A single shared writer behind a mutex — rather than a channel feeding a
// dedicated writer goroutine — is grounded on libvuln/jsonblob.Store in
// claircore's jsonblob.Store, which embeds sync.RWMutex and serializes
// concurrent UpdateVulnerabilities/UpdateEnrichments callers that way.
package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/archivecore/archivecore"
	"github.com/quay/zlog"
)

// Writer is the run's single Output Writer. Every worker calls Write with
// its own finished batches; Writer serializes them under an internal
// mutex, applies cross-batch dedup, and forwards kept rows to the
// underlying Parquet file.
//
// A Writer is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	fw     *pqarrow.FileWriter
	schema *arrow.Schema
	unique bool
	seen   map[archivecore.Hash]struct{}
	counts archivecore.Counts
	closed bool
}

// writeBatchSize is the writer's internal row-batching size, matching the
// 1 MiB write_batch_size the original extractor requests.
const writeBatchSize = 1024 * 1024

// Column groups the writer requests special handling for: bloom filters on
// the columns duplicate-lookups and joins key off, page-level statistics
// on every column cheap enough to benefit from them, and dictionary
// encoding on the two low-cardinality-per-file string columns.
var (
	bloomFilterColumns = []string{"source", "path", "hash"}
	statisticsColumns  = []string{"source", "path", "size", "hash"}
	dictionaryColumns  = []string{"source", "path"}
)

// writerProperties builds the Parquet writer properties the engine
// requests: version 2.0, a 1 MiB write batch, bloom filters and page
// statistics on the lookup columns, and dictionary encoding confined to
// the two string columns (disabled everywhere else).
func writerProperties(codec compress.Compression) *parquet.WriterProperties {
	opts := []parquet.WriterProperty{
		parquet.WithCompression(codec),
		parquet.WithVersion(parquet.V2_0),
		parquet.WithDictionaryDefault(false),
		parquet.WithBatchSize(writeBatchSize),
	}
	for _, col := range dictionaryColumns {
		opts = append(opts, parquet.WithDictionaryFor(col, true))
	}
	for _, col := range statisticsColumns {
		opts = append(opts, parquet.WithStatsFor(col, true))
	}
	for _, col := range bloomFilterColumns {
		opts = append(opts, parquet.WithBloomFilterFor(col, true))
	}
	return parquet.NewWriterProperties(opts...)
}

// New opens a Writer over w using schema and compression, where
// compression is one of "zstd", "snappy", "gzip", or "none".
func New(w io.Writer, schema *arrow.Schema, compression string, unique bool) (*Writer, error) {
	codec, err := codecFor(compression)
	if err != nil {
		return nil, &archivecore.Error{Op: "sink.New", Kind: archivecore.ErrUnsupported, Inner: err}
	}
	props := writerProperties(codec)
	arrProps := pqarrow.DefaultWriterProps()
	fw, err := pqarrow.NewFileWriter(schema, w, props, arrProps)
	if err != nil {
		return nil, &archivecore.Error{Op: "sink.New", Kind: archivecore.ErrWrite, Inner: err}
	}
	sw := &Writer{fw: fw, schema: schema, unique: unique}
	if unique {
		sw.seen = make(map[archivecore.Hash]struct{})
	}
	return sw, nil
}

func codecFor(name string) (compress.Compression, error) {
	switch name {
	case "", "none":
		return compress.Codecs.Uncompressed, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression codec %q", name)
	}
}

// Write appends rec's rows to the output, first dropping any row whose
// hash has already been written by an earlier batch (from this or any
// other worker) when the run's Unique policy is enabled. The caller
// retains ownership of rec and must Release it itself.
//
// Write reports how many rows were actually written and how many were
// dropped as cross-batch duplicates.
func (w *Writer) Write(ctx context.Context, rec arrow.Record) (written, deduped uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, 0, &archivecore.Error{Op: "sink.Write", Kind: archivecore.ErrWriterClosed}
	}

	out := rec
	if w.unique {
		out, deduped = w.filterSeen(rec)
		if out != rec {
			defer out.Release()
		}
	}

	if out.NumRows() > 0 {
		if err := w.fw.WriteBuffered(out); err != nil {
			return 0, deduped, &archivecore.Error{Op: "sink.Write", Kind: archivecore.ErrWrite, Inner: err}
		}
	}

	written = uint64(out.NumRows())
	w.counts = w.counts.Add(archivecore.Counts{Written: written, Deduplicated: deduped})

	zlog.Debug(ctx).
		Uint64("written", written).
		Uint64("deduplicated", deduped).
		Msg("wrote batch")
	return written, deduped, nil
}

// filterSeen returns a new record containing only rows whose hash has not
// been seen by this Writer before, recording every row it keeps in the
// seen set. If every row is kept, it returns rec itself unmodified.
func (w *Writer) filterSeen(rec arrow.Record) (arrow.Record, uint64) {
	hashCol, ok := rec.Column(3).(*array.FixedSizeBinary)
	if !ok {
		// Schema mismatch; nothing this package can recover from safely.
		return rec, 0
	}

	n := int(rec.NumRows())
	keep := make([]bool, n)
	allKept := true
	var deduped uint64
	for i := 0; i < n; i++ {
		var h archivecore.Hash
		copy(h[:], hashCol.Value(i))
		if _, dup := w.seen[h]; dup {
			keep[i] = false
			allKept = false
			deduped++
			continue
		}
		w.seen[h] = struct{}{}
		keep[i] = true
	}
	if allKept {
		return rec, 0
	}
	return filterRecord(rec, keep), deduped
}

// filterRecord builds a new record containing only the rows where keep is
// true, preserving rec's schema and column order.
func filterRecord(rec arrow.Record, keep []bool) arrow.Record {
	mem := memory.NewGoAllocator()
	schema := rec.Schema()

	source := array.NewStringBuilder(mem)
	defer source.Release()
	path := array.NewStringBuilder(mem)
	defer path.Release()
	size := array.NewUint64Builder(mem)
	defer size.Release()
	hash := array.NewFixedSizeBinaryBuilder(mem, &arrow.FixedSizeBinaryType{ByteWidth: archivecore.HashSize})
	defer hash.Release()

	sourceArr := rec.Column(0).(*array.String)
	pathArr := rec.Column(1).(*array.String)
	sizeArr := rec.Column(2).(*array.Uint64)
	hashArr := rec.Column(3).(*array.FixedSizeBinary)

	_, onlyText := rec.Column(4).(*array.String)
	var contentText *array.StringBuilder
	var contentBin *array.BinaryBuilder
	if onlyText {
		contentText = array.NewStringBuilder(mem)
		defer contentText.Release()
	} else {
		contentBin = array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		defer contentBin.Release()
	}
	contentStrArr, _ := rec.Column(4).(*array.String)
	contentBinArr, _ := rec.Column(4).(*array.Binary)

	var n int64
	for i, k := range keep {
		if !k {
			continue
		}
		source.Append(sourceArr.Value(i))
		path.Append(pathArr.Value(i))
		size.Append(sizeArr.Value(i))
		hash.Append(hashArr.Value(i))
		if onlyText {
			contentText.Append(contentStrArr.Value(i))
		} else {
			contentBin.Append(contentBinArr.Value(i))
		}
		n++
	}

	sourceOut := source.NewArray()
	defer sourceOut.Release()
	pathOut := path.NewArray()
	defer pathOut.Release()
	sizeOut := size.NewArray()
	defer sizeOut.Release()
	hashOut := hash.NewArray()
	defer hashOut.Release()
	var contentOut arrow.Array
	if onlyText {
		contentOut = contentText.NewArray()
	} else {
		contentOut = contentBin.NewArray()
	}
	defer contentOut.Release()

	cols := []arrow.Array{sourceOut, pathOut, sizeOut, hashOut, contentOut}
	return array.NewRecord(schema, cols, n)
}

// Close flushes and closes the underlying Parquet file, returning the
// run's final aggregate Counts for this Writer. Close is idempotent; a
// second call returns the same Counts without error.
func (w *Writer) Close() (archivecore.Counts, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.counts, nil
	}
	w.closed = true
	if err := w.fw.Close(); err != nil {
		return w.counts, &archivecore.Error{Op: "sink.Close", Kind: archivecore.ErrWrite, Inner: err}
	}
	return w.counts, nil
}
