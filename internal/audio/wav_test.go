package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestWAVRoundtrip(t *testing.T) {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	data, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, sampleRate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if sampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", sampleRate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(decoded), len(samples))
	}

	// int16 quantization loses precision, allow for it.
	for i := range samples {
		if diff := math.Abs(float64(decoded[i] - samples[i])); diff > 1e-4 {
			t.Fatalf("sample %d = %f, want %f within quantization error", i, decoded[i], samples[i])
		}
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("expected error for empty samples")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("definitely not a wav file")); err == nil {
		t.Error("expected error for invalid data")
	}
}

func TestWriteWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")

	samples := make([]float32, 1600)
	if err := WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}

	decoded, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(decoded) != 1600 {
		t.Errorf("decoded %d samples, want 1600", len(decoded))
	}
}
