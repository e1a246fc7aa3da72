package audio

import (
	"fmt"
	"sync"
	"time"
)

// Accumulator collects small capture frames into fixed-size chunks suitable
// for network transmission. Frames arrive at the capture boundary (nominally
// 128 samples each); once chunkSize samples are buffered a chunk of exactly
// chunkSize samples is emitted, oldest first, and the remainder stays
// buffered for the next cycle.
type Accumulator struct {
	chunkSize int
	buf       []float32

	// Statistics
	framesIn      uint64
	samplesIn     uint64
	chunksEmitted uint64
	lastFrame     time.Time

	mu sync.Mutex
}

// AccumulatorStats represents accumulator statistics for monitoring
type AccumulatorStats struct {
	ChunkSize     int       `json:"chunk_size"`
	Pending       int       `json:"pending_samples"`
	FramesIn      uint64    `json:"frames_in"`
	SamplesIn     uint64    `json:"samples_in"`
	ChunksEmitted uint64    `json:"chunks_emitted"`
	LastFrame     time.Time `json:"last_frame"`
}

// NewAccumulator creates an accumulator emitting chunks of chunkSize samples
func NewAccumulator(chunkSize int) (*Accumulator, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be at least 1 sample, got %d", chunkSize)
	}

	return &Accumulator{
		chunkSize: chunkSize,
		buf:       make([]float32, 0, chunkSize*2),
	}, nil
}

// Push appends a frame of samples and returns every chunk completed by it.
// A frame may complete zero, one, or several chunks; each returned chunk is
// exactly chunkSize samples in input order and owns its backing array. Nil
// or empty frames are ignored without error so a silent capture callback
// keeps the pipeline alive.
func (a *Accumulator) Push(frame []float32) [][]float32 {
	if len(frame) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.framesIn++
	a.samplesIn += uint64(len(frame))
	a.lastFrame = time.Now()
	a.buf = append(a.buf, frame...)

	var chunks [][]float32
	for len(a.buf) >= a.chunkSize {
		chunk := make([]float32, a.chunkSize)
		copy(chunk, a.buf[:a.chunkSize])
		chunks = append(chunks, chunk)

		// FIFO: keep the remainder for the next accumulation cycle.
		remaining := len(a.buf) - a.chunkSize
		copy(a.buf, a.buf[a.chunkSize:])
		a.buf = a.buf[:remaining]

		a.chunksEmitted++
	}

	return chunks
}

// Reset clears buffered-but-unflushed samples without touching statistics.
// Used on manual restart so a new recording never inherits stale audio.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = a.buf[:0]
}

// Pending returns the number of buffered samples not yet part of a chunk.
// Always less than the chunk size after any Push returns.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// ChunkSize returns the configured chunk size in samples
func (a *Accumulator) ChunkSize() int {
	return a.chunkSize
}

// GetStats returns current accumulator statistics
func (a *Accumulator) GetStats() AccumulatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AccumulatorStats{
		ChunkSize:     a.chunkSize,
		Pending:       len(a.buf),
		FramesIn:      a.framesIn,
		SamplesIn:     a.samplesIn,
		ChunksEmitted: a.chunksEmitted,
		LastFrame:     a.lastFrame,
	}
}
