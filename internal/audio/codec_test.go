package audio

import (
	"testing"
)

func TestSamplesBytesRoundtrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1.0, -1.0, 0.123456}

	data := SamplesToBytes(samples)
	if len(data) != len(samples)*4 {
		t.Fatalf("encoded length = %d, want %d", len(data), len(samples)*4)
	}

	decoded, err := BytesToSamples(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d = %f, want %f", i, decoded[i], samples[i])
		}
	}
}

func TestBytesToSamplesInvalidLength(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 127} {
		if _, err := BytesToSamples(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d bytes", n)
		}
	}
}

func TestChunkBase64Roundtrip(t *testing.T) {
	chunk := make([]float32, 1600)
	for i := range chunk {
		chunk[i] = float32(i) / 1600
	}

	decoded, err := DecodeChunkBase64(EncodeChunkBase64(chunk))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != len(chunk) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(chunk))
	}
	for i := range chunk {
		if decoded[i] != chunk[i] {
			t.Fatalf("sample %d = %f, want %f", i, decoded[i], chunk[i])
		}
	}
}

func TestDecodeChunkBase64Invalid(t *testing.T) {
	if _, err := DecodeChunkBase64("not-base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
