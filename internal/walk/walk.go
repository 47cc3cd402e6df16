// Package walk streams regular-file entries out of a tar, tar.gz, or zip
// container.
//
// The Next/Entry/Err shape is grounded on libvuln/jsonblob.Loader in
// claircore (an iterator exposing Next() bool / Entry() *Entry /
// Err() error over a decoded stream); here it's adapted to entries backed
// by readers instead of decoded JSON values. The tar traversal itself is
// grounded on dpkg/scanner.go's use of archive/tar, and the zip traversal
// on java/jar/jar.go's archive/zip usage — including that file's own
// justification for buffering ("Zips need random access, so allocate a
// buffer for any we find").
package walk

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"os"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"

	"github.com/archivecore/archivecore"
	"github.com/archivecore/archivecore/internal/sniff"
)

// Entry is one regular-file entry yielded by an Iterator.
//
// Reader must be fully consumed (or abandoned) before the next call to
// Next; an Iterator reuses or closes its underlying per-entry reader on
// each Next call.
type Entry struct {
	Path   string
	Size   int64
	Reader io.Reader
}

// Iterator produces a lazy, single-pass sequence of regular-file Entry
// values restricted to size > 0, in the container's native order.
//
// Callers should call Next until it reports false, then check Err.
type Iterator interface {
	Next() bool
	Entry() Entry
	Err() error
	// Skipped reports how many entries this Iterator silently dropped
	// for reasons attributable to container-level policy: tar entries
	// that are not regular files, and tar entries with a non-UTF-8 path.
	// Zero-size entries and zip directory entries are filtered without
	// being counted.
	Skipped() uint64
	// Close releases any resources (a gzip decoder, an open zip member)
	// held by the Iterator. Safe to call multiple times.
	Close() error
}

// New returns an Iterator appropriate for format over r.
//
// r must be the exact reader returned by [sniff.Sniff] (or an equivalent
// stream positioned at the very start of the container) — New does not
// re-sniff.
func New(format sniff.Format, r io.Reader) (Iterator, error) {
	switch format {
	case sniff.Tar:
		return newTarIterator(r, nil), nil
	case sniff.TarGz:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, &archivecore.Error{Op: "walk.New", Kind: archivecore.ErrIO, Inner: err}
		}
		return newTarIterator(gz, gz), nil
	case sniff.Zip:
		return newZipIterator(r)
	default:
		return nil, &archivecore.Error{Op: "walk.New", Kind: archivecore.ErrUnsupported, Message: format.String()}
	}
}

type tarIterator struct {
	tr      *tar.Reader
	closer  io.Closer
	cur     Entry
	err     error
	skipped uint64
}

func newTarIterator(r io.Reader, closer io.Closer) *tarIterator {
	return &tarIterator{tr: tar.NewReader(r), closer: closer}
}

func (it *tarIterator) Next() bool {
	for {
		hdr, err := it.tr.Next()
		if err != nil {
			if err != io.EOF {
				it.err = &archivecore.Error{Op: "walk.tarIterator.Next", Kind: archivecore.ErrIO, Inner: err}
			}
			return false
		}
		if hdr.Typeflag != tar.TypeReg {
			it.skipped++
			continue
		}
		if hdr.Size == 0 {
			continue
		}
		if !utf8.ValidString(hdr.Name) {
			it.skipped++
			continue
		}
		it.cur = Entry{Path: hdr.Name, Size: hdr.Size, Reader: it.tr}
		return true
	}
}

func (it *tarIterator) Entry() Entry    { return it.cur }
func (it *tarIterator) Err() error      { return it.err }
func (it *tarIterator) Skipped() uint64 { return it.skipped }
func (it *tarIterator) Close() error {
	if it.closer != nil {
		return it.closer.Close()
	}
	return nil
}

type zipIterator struct {
	zr     *zip.Reader
	idx    int
	cur    Entry
	err    error
	closer io.Closer
}

func newZipIterator(r io.Reader) (*zipIterator, error) {
	ra, size, err := readerAt(r)
	if err != nil {
		return nil, &archivecore.Error{Op: "walk.newZipIterator", Kind: archivecore.ErrIO, Inner: err}
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, &archivecore.Error{Op: "walk.newZipIterator", Kind: archivecore.ErrUnsupported, Inner: err}
	}
	return &zipIterator{zr: zr}, nil
}

// readerAt adapts r to an io.ReaderAt plus known size, as required by
// archive/zip.NewReader. *os.File and already-buffered readers satisfy
// this directly; anything else is fully buffered in memory first, the
// same tradeoff java/jar/jar.go documents for nested zips.
func readerAt(r io.Reader) (io.ReaderAt, int64, error) {
	if f, ok := r.(*os.File); ok {
		fi, err := f.Stat()
		if err != nil {
			return nil, 0, err
		}
		return f, fi.Size(), nil
	}
	if ra, ok := r.(io.ReaderAt); ok {
		if sz, ok := r.(interface{ Len() int }); ok {
			return ra, int64(sz.Len()), nil
		}
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(b), int64(len(b)), nil
}

func (it *zipIterator) Next() bool {
	if it.closer != nil {
		it.closer.Close()
		it.closer = nil
	}
	for it.idx < len(it.zr.File) {
		f := it.zr.File[it.idx]
		it.idx++
		if f.FileInfo().IsDir() || f.UncompressedSize64 == 0 {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			it.err = &archivecore.Error{Op: "walk.zipIterator.Next", Kind: archivecore.ErrIO, Inner: err}
			return false
		}
		it.closer = rc
		it.cur = Entry{Path: f.Name, Size: int64(f.UncompressedSize64), Reader: rc}
		return true
	}
	return false
}

func (it *zipIterator) Entry() Entry    { return it.cur }
func (it *zipIterator) Err() error      { return it.err }
func (it *zipIterator) Skipped() uint64 { return 0 }
func (it *zipIterator) Close() error {
	if it.closer != nil {
		return it.closer.Close()
	}
	return nil
}
