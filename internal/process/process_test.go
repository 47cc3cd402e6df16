package process

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/archivecore/archivecore"
	"github.com/archivecore/archivecore/internal/batch"
	"github.com/archivecore/archivecore/internal/walk"
)

func entry(path, body string) walk.Entry {
	return walk.Entry{Path: path, Size: int64(len(body)), Reader: bytes.NewReader([]byte(body))}
}

func TestEntrySkipsBelowMinSize(t *testing.T) {
	cfg := archivecore.Config{MinSize: 10}
	p := New(cfg, nil)
	b := batch.New(false, false)

	counts, err := p.Entry(context.Background(), "a.tar", entry("small.txt", "hi"), b)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Skipped != 1 || counts.Written != 0 {
		t.Errorf("counts = %+v, want Skipped=1 Written=0", counts)
	}
}

func TestEntryWritesSurvivor(t *testing.T) {
	cfg := archivecore.Config{MinSize: 1}
	p := New(cfg, nil)
	b := batch.New(false, false)

	counts, err := p.Entry(context.Background(), "a.tar", entry("ok.txt", "hello world"), b)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Skipped != 0 {
		t.Errorf("counts = %+v, want Skipped=0", counts)
	}
	if got := b.Len(); got != 1 {
		t.Errorf("builder Len() = %d, want 1 (row handed to the batch builder)", got)
	}
}

func TestEntryOnlyTextSkipsInvalidUTF8(t *testing.T) {
	cfg := archivecore.Config{MinSize: 1, OnlyText: true}
	p := New(cfg, nil)
	b := batch.New(true, false)

	bad := walk.Entry{Path: "bin.dat", Size: 3, Reader: bytes.NewReader([]byte{0xff, 0xfe, 0xfd})}
	counts, err := p.Entry(context.Background(), "a.tar", bad, b)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Skipped != 1 {
		t.Errorf("counts = %+v, want Skipped=1", counts)
	}
}

func TestEntryStripsUTF8BOMWhenOnlyText(t *testing.T) {
	cfg := archivecore.Config{MinSize: 1, OnlyText: true}
	p := New(cfg, nil)
	b := batch.New(true, false)

	bom := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...)
	counts, err := p.Entry(context.Background(), "a.tar", entry("bom.txt", string(bom)), b)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Skipped != 0 {
		t.Fatalf("counts = %+v, want Skipped=0", counts)
	}

	res, ok := b.Flush()
	if !ok {
		t.Fatal("Flush: ok = false, want true")
	}
	defer res.Record.Release()

	col, ok := res.Record.Column(4).(*array.String)
	if !ok {
		t.Fatalf("content column type = %T, want *array.String", res.Record.Column(4))
	}
	if got := col.Value(0); got != "hello" {
		t.Errorf("stored content = %q, want %q (BOM stripped)", got, "hello")
	}
}

func TestEntryRecursesIntoNestedArchive(t *testing.T) {
	var inner bytes.Buffer
	tw := tar.NewWriter(&inner)
	if err := tw.WriteHeader(&tar.Header{Name: "leaf.txt", Typeflag: tar.TypeReg, Size: 5, Mode: 0o644}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	depth := uint32(1)
	cfg := archivecore.Config{MinSize: 1, MaxDepth: &depth}

	var recursedLabel string
	recurse := func(ctx context.Context, label string, nested archivecore.Config, r io.Reader) (archivecore.Counts, error) {
		recursedLabel = label
		if nested.MaxDepth == nil || *nested.MaxDepth != 0 {
			t.Errorf("nested MaxDepth = %v, want 0", nested.MaxDepth)
		}
		body, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if len(body) != inner.Len() {
			t.Errorf("recurse got %d bytes, want %d", len(body), inner.Len())
		}
		return archivecore.Counts{Read: 1, Written: 1}, nil
	}

	p := New(cfg, recurse)
	b := batch.New(false, false)

	nestedEntry := walk.Entry{Path: "nested.tar", Size: int64(inner.Len()), Reader: bytes.NewReader(inner.Bytes())}
	counts, err := p.Entry(context.Background(), "outer.tar", nestedEntry, b)
	if err != nil {
		t.Fatal(err)
	}
	if recursedLabel != "outer.tar/nested.tar" {
		t.Errorf("recursedLabel = %q, want %q", recursedLabel, "outer.tar/nested.tar")
	}
	if counts.Written != 1 {
		t.Errorf("counts = %+v, want Written=1 (from nested run)", counts)
	}
	if got := b.Len(); got != 0 {
		t.Errorf("builder Len() = %d, want 0 (recursion must not also emit the container as a row)", got)
	}
}

func TestEntryDoesNotRecurseAtZeroDepth(t *testing.T) {
	var inner bytes.Buffer
	tw := tar.NewWriter(&inner)
	tw.WriteHeader(&tar.Header{Name: "leaf.txt", Typeflag: tar.TypeReg, Size: 5, Mode: 0o644})
	tw.Write([]byte("hello"))
	tw.Close()

	depth := uint32(0)
	cfg := archivecore.Config{MinSize: 1, MaxDepth: &depth}

	called := false
	recurse := func(ctx context.Context, label string, nested archivecore.Config, r io.Reader) (archivecore.Counts, error) {
		called = true
		return archivecore.Counts{}, nil
	}

	p := New(cfg, recurse)
	b := batch.New(false, false)

	nestedEntry := walk.Entry{Path: "nested.tar", Size: int64(inner.Len()), Reader: bytes.NewReader(inner.Bytes())}
	counts, err := p.Entry(context.Background(), "outer.tar", nestedEntry, b)
	if err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("recurse called at MaxDepth=0, want no recursion")
	}
	if counts.Read != 1 {
		t.Errorf("counts = %+v, want Read=1", counts)
	}
	if got := b.Len(); got != 1 {
		t.Errorf("builder Len() = %d, want 1 (stored as a raw blob instead)", got)
	}
}
