package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// The capture boundary and the transcription backend both speak raw
// little-endian float32 PCM: ingest frames arrive as bare float32 bytes, and
// chunks are transmitted base64-encoded in the same layout.

// SamplesToBytes encodes float32 samples as little-endian bytes
func SamplesToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// BytesToSamples decodes little-endian float32 bytes into samples.
// The byte length must be a multiple of 4.
func BytesToSamples(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("audio data length must be a multiple of 4 bytes, got %d", len(data))
	}

	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples, nil
}

// EncodeChunkBase64 encodes a chunk's raw float32 bytes as standard base64
// for the add_chunk request body
func EncodeChunkBase64(samples []float32) string {
	return base64.StdEncoding.EncodeToString(SamplesToBytes(samples))
}

// DecodeChunkBase64 decodes an add_chunk payload back into samples
func DecodeChunkBase64(payload string) ([]float32, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}
	return BytesToSamples(data)
}
