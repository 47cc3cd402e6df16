// Package registry implements the Input Registry: the set of top-level
// inputs (files, in-memory buffers, or already-open readers) an
// extraction run consumes, each identified by a unique label.
//
// The lazy-open pattern — an input records how to obtain a reader rather
// than holding one open from the moment it's registered — is grounded on
// claircore.Layer.Reader in claircore, which stores a
// localPath and opens it fresh on every call rather than keeping a file
// descriptor alive for the Layer's whole lifetime.
package registry

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/archivecore/archivecore"
)

// Input is one registered top-level input. Its label becomes the Source
// column for every record extracted from it (or its descendants).
type Input struct {
	Label string
	// Open returns a fresh reader over the input's bytes. It's called
	// exactly once per extraction attempt; Registry never calls it itself.
	Open func() (io.ReadCloser, error)
}

// Registry holds the deduplicated set of inputs for one run, keyed by
// label. A label already present is a no-op: AddPath/AddBuffer/AddReader
// report whether the input was newly added.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	order  []string
	byName map[string]Input
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]Input)}
}

func (r *Registry) add(in Input) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[in.Label]; dup {
		return false
	}
	r.byName[in.Label] = in
	r.order = append(r.order, in.Label)
	return true
}

// AddPath registers the file at path, labeled path itself. The file is
// not opened until the orchestrator later calls Open; AddPath only Stats
// it to fail fast on a missing or inaccessible path.
func (r *Registry) AddPath(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, &archivecore.Error{Op: "registry.AddPath", Kind: archivecore.ErrIO, Inner: err}
	}
	return r.add(Input{
		Label: path,
		Open:  func() (io.ReadCloser, error) { return os.Open(path) },
	}), nil
}

// AddBuffer registers an in-memory input under label, copying data so the
// caller is free to reuse or discard its slice afterward.
func (r *Registry) AddBuffer(label string, data []byte) bool {
	cp := append([]byte(nil), data...)
	return r.add(Input{
		Label: label,
		Open:  func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(cp)), nil },
	})
}

// AddReader registers an already-open reader under label. Because it
// can't be reopened, the Registry hands it out exactly once: a second
// Open call (which should never happen in normal operation, since each
// Input is only drained once) returns an error.
func (r *Registry) AddReader(label string, rc io.Reader) bool {
	wrapped := io.NopCloser(rc)
	if c, ok := rc.(io.Closer); ok {
		wrapped = readCloser{rc, c}
	}
	var used bool
	var mu sync.Mutex
	return r.add(Input{
		Label: label,
		Open: func() (io.ReadCloser, error) {
			mu.Lock()
			defer mu.Unlock()
			if used {
				return nil, &archivecore.Error{Op: "registry.AddReader", Kind: archivecore.ErrIO, Message: "reader-backed input already consumed: " + label}
			}
			used = true
			return wrapped, nil
		},
	})
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Len reports the number of distinct inputs currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Inputs returns a snapshot of every registered Input, in registration
// order. The orchestrator ranges over this slice itself — sequentially,
// or by handing indices out to a worker pool — rather than having the
// Registry impose an iteration strategy.
func (r *Registry) Inputs() []Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Input, len(r.order))
	for i, label := range r.order {
		out[i] = r.byName[label]
	}
	return out
}
