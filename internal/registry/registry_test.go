package registry

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestAddPathDedup(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.tar")
	if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	added, err := r.AddPath(p)
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Error("first AddPath: added = false, want true")
	}
	added, err = r.AddPath(p)
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Error("second AddPath with same label: added = true, want false")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestAddPathMissingFile(t *testing.T) {
	r := New()
	if _, err := r.AddPath("/nonexistent/path/does-not-exist"); err == nil {
		t.Fatal("AddPath on missing file: err = nil, want error")
	}
}

func TestAddBufferOpensIndependently(t *testing.T) {
	r := New()
	if !r.AddBuffer("mem-1", []byte("hello")) {
		t.Fatal("AddBuffer: added = false, want true")
	}
	inputs := r.Inputs()
	if len(inputs) != 1 {
		t.Fatalf("Inputs() len = %d, want 1", len(inputs))
	}
	for i := 0; i < 2; i++ {
		rc, err := inputs[0].Open()
		if err != nil {
			t.Fatal(err)
		}
		body, err := io.ReadAll(rc)
		if err != nil {
			t.Fatal(err)
		}
		rc.Close()
		if string(body) != "hello" {
			t.Errorf("Open() #%d body = %q, want %q", i, body, "hello")
		}
	}
}

func TestAddReaderConsumedOnce(t *testing.T) {
	r := New()
	if !r.AddReader("stdin", bytes.NewReader([]byte("once"))) {
		t.Fatal("AddReader: added = false, want true")
	}
	inputs := r.Inputs()
	rc, err := inputs[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	rc.Close()

	if _, err := inputs[0].Open(); err == nil {
		t.Fatal("second Open on reader-backed input: err = nil, want error")
	}
}

func TestInputsOrderPreserved(t *testing.T) {
	r := New()
	r.AddBuffer("b", []byte("1"))
	r.AddBuffer("a", []byte("2"))
	r.AddBuffer("c", []byte("3"))

	got := r.Inputs()
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %d inputs, want %d", len(got), len(want))
	}
	for i, label := range want {
		if got[i].Label != label {
			t.Errorf("Inputs()[%d].Label = %q, want %q", i, got[i].Label, label)
		}
	}
}
