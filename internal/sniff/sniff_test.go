package sniff

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func tarBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for name, body := range files {
		hdr := &tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Size:     int64(len(body)),
			Mode:     0o644,
		}
		if err := w.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipBytesMagic() []byte {
	return []byte{'P', 'K', 0x03, 0x04, 0, 0, 0, 0}
}

func TestSniff(t *testing.T) {
	tarData := tarBytes(t, map[string]string{"hello.txt": "hello world"})

	tt := []struct {
		name string
		data []byte
		want Format
	}{
		{"empty", nil, Empty},
		{"tar", tarData, Tar},
		{"tar.gz", gzipBytes(t, tarData), TarGz},
		{"zip", zipBytesMagic(), Zip},
		{"plain gzip is unsupported", gzipBytes(t, []byte("not a tar, just text")), Unsupported},
		{"garbage", []byte("not an archive at all"), Unsupported},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, r, err := Sniff(bytes.NewReader(tc.data), 1)
			if err != nil {
				t.Fatalf("Sniff: %v", err)
			}
			if got != tc.want {
				t.Errorf("Sniff(%s) = %v, want %v", tc.name, got, tc.want)
			}
			// The returned reader must replay the entire original stream.
			replayed, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("reading replay: %v", err)
			}
			if !bytes.Equal(replayed, tc.data) {
				t.Errorf("replayed stream does not match original: got %d bytes, want %d", len(replayed), len(tc.data))
			}
		})
	}
}

func TestSniffMinSizeRejectsShortStream(t *testing.T) {
	got, _, err := Sniff(bytes.NewReader([]byte("short")), 1000)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if got != Unsupported {
		t.Errorf("Sniff short stream with large MinSize = %v, want Unsupported", got)
	}
}

func TestSniffLongStreamSurvivesMinSizeAbovePeekWindow(t *testing.T) {
	// A tar archive is built from 512-byte blocks, so even a single small
	// file comfortably exceeds the 280-byte peek window. A minSize above
	// peekWindow (like the CLI's default of 300) must not reject a real,
	// longer-than-the-window archive just because the window itself is
	// smaller than minSize.
	tarData := tarBytes(t, map[string]string{"hello.txt": "hello world, a single realistic file entry"})
	if len(tarData) <= peekWindow {
		t.Fatalf("test fixture too small: %d bytes, want > %d", len(tarData), peekWindow)
	}

	got, _, err := Sniff(bytes.NewReader(tarData), 300)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if got != Tar {
		t.Errorf("Sniff(long tar, minSize=300) = %v, want Tar", got)
	}
}
