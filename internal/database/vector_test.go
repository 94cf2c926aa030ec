package database

import (
	"math"
	"testing"
)

func TestEncodeDecodeVector(t *testing.T) {
	in := []float32{0, -1.5, 3.25, math.MaxFloat32, float32(math.SmallestNonzeroFloat32)}

	blob := EncodeVector(in)
	if len(blob) != 4*len(in) {
		t.Fatalf("blob length = %d, want %d", len(blob), 4*len(in))
	}

	out, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("decoded length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestEncodeVector_LittleEndian(t *testing.T) {
	blob := EncodeVector([]float32{1})
	// 1.0f = 0x3F800000
	want := []byte{0x00, 0x00, 0x80, 0x3F}
	for i := range want {
		if blob[i] != want[i] {
			t.Fatalf("blob = % x, want % x", blob, want)
		}
	}
}

func TestDecodeVector_BadLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
