package archivecore

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestSumHashIsDeterministic(t *testing.T) {
	a := SumHash([]byte("hello world"))
	b := SumHash([]byte("hello world"))
	if a != b {
		t.Errorf("SumHash is not deterministic: %v != %v", a, b)
	}
}

func TestSumHashDiffersOnDifferentContent(t *testing.T) {
	a := SumHash([]byte("hello"))
	b := SumHash([]byte("world"))
	if a == b {
		t.Error("SumHash produced the same digest for different content")
	}
}

func TestHashStringIsLowercaseHex(t *testing.T) {
	h := SumHash([]byte("hello world"))
	s := h.String()
	if len(s) != HashSize*2 {
		t.Fatalf("String() length = %d, want %d", len(s), HashSize*2)
	}
	if s != strings.ToLower(s) {
		t.Errorf("String() = %q, want lowercase hex", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("String() is not valid hex: %v", err)
	}
	if Hash(b[:HashSize]) != h {
		t.Error("hex-decoded String() does not round-trip to the original Hash")
	}
}

func TestHashMarshalText(t *testing.T) {
	h := SumHash([]byte("content"))
	b, err := h.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != h.String() {
		t.Errorf("MarshalText() = %q, want %q", b, h.String())
	}
}
