// Package sniff classifies a byte stream as tar, tar.gz, or zip by peeking
// a small fixed-size prefix, without consuming the stream.
//
// The detection approach — a fixed-size peek window tested against a table
// of magic-byte headers — is grounded on
// internal/indexer/fetcher/compression.go's detectCompression in claircore,
// generalized from a two-way gzip/zstd/none test to the
// tar/tar.gz/zip/unsupported/empty classification an extraction run needs.
package sniff

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/archivecore/archivecore"
)

// Format is the result of classifying a stream's prefix.
type Format int

// Defined formats.
const (
	Unknown Format = iota
	Empty
	Unsupported
	Tar
	TarGz
	Zip
)

func (f Format) String() string {
	switch f {
	case Empty:
		return "empty"
	case Unsupported:
		return "unsupported"
	case Tar:
		return "tar"
	case TarGz:
		return "tar.gz"
	case Zip:
		return "zip"
	default:
		return "unknown"
	}
}

// peekWindow is the maximum number of bytes sniffed from the front of a
// stream.
const peekWindow = 280

// tarMagicOffset is the byte offset of the "ustar" magic in a POSIX/GNU tar
// header.
const tarMagicOffset = 257

var (
	tarMagic  = []byte("ustar")
	gzipMagic = []byte{0x1F, 0x8B, 0x08}
	zipMagics = [][]byte{
		{'P', 'K', 0x03, 0x04}, // local file header
		{'P', 'K', 0x05, 0x06}, // empty archive (end of central directory only)
		{'P', 'K', 0x07, 0x08}, // spanned archive
	}
)

// Sniff classifies the stream r by peeking at most 280 bytes from its
// front. It returns the classification and a reader that replays any
// peeked bytes before continuing to read from r — callers must read from
// the returned reader, not r, for any subsequent consumption.
//
// minSize is the run's configured minimum entry size: a stream that hits
// EOF within the peek window and yields fewer than minSize bytes in total
// is reported Unsupported rather than being magic-tested. A stream that
// fills the whole peek window is never rejected on minSize grounds here —
// the window is capped at peekWindow regardless of minSize, so a full
// window says nothing about whether the stream as a whole meets minSize;
// it only proves the stream has at least peekWindow bytes.
func Sniff(r io.Reader, minSize uint64) (Format, io.Reader, error) {
	br := bufio.NewReaderSize(r, peekWindow)
	peek, err := br.Peek(peekWindow)
	eof := errors.Is(err, io.EOF)
	switch {
	case err == nil, eof, errors.Is(err, bufio.ErrBufferFull):
		// Short stream (fewer than peekWindow bytes total) or a full
		// window; both are usable for classification.
	default:
		return Unknown, br, &archivecore.Error{
			Op: "sniff.Sniff", Kind: archivecore.ErrIO, Inner: err,
		}
	}

	if len(peek) == 0 {
		return Empty, br, nil
	}
	if eof && uint64(len(peek)) < minSize {
		return Unsupported, br, nil
	}

	if len(peek) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(peek[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic) {
		return Tar, br, nil
	}

	for _, m := range zipMagics {
		if len(peek) >= len(m) && bytes.Equal(peek[:len(m)], m) {
			return Zip, br, nil
		}
	}

	if len(peek) >= len(gzipMagic) && bytes.Equal(peek[:len(gzipMagic)], gzipMagic) {
		if looksLikeTarGz(peek) {
			return TarGz, br, nil
		}
		// Plain (non-tar) gzip is not a supported container.
		return Unsupported, br, nil
	}

	return Unsupported, br, nil
}

// looksLikeTarGz transparently gunzips up to peekWindow bytes of the
// peeked prefix (a fresh decode over a copy, never touching the live
// stream) and tests the decompressed prefix for the tar magic.
func looksLikeTarGz(peeked []byte) bool {
	zr, err := gzip.NewReader(bytes.NewReader(peeked))
	if err != nil {
		return false
	}
	defer zr.Close()

	dec := make([]byte, peekWindow)
	n, _ := io.ReadFull(zr, dec)
	if n < tarMagicOffset+len(tarMagic) {
		return false
	}
	return bytes.Equal(dec[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic)
}
