package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mmaudet/twake-assistant/internal/audio"
	"github.com/mmaudet/twake-assistant/internal/metrics"
)

// Pipeline connects the capture boundary to the session controller. Frames
// pushed by an ingest connection run through the accumulator; completed
// chunks are handed over on a bounded channel. The capture side only ever
// sends immutable chunk slices and never reads session state back.
type Pipeline struct {
	acc    *audio.Accumulator
	chunks chan []float32

	sampleRate int
	retainWAV  bool
	dumpDir    string

	// Retained audio for the optional WAV dump, guarded separately from the
	// accumulator's own lock.
	retained   []float32
	retainedMu sync.Mutex

	logger  *slog.Logger
	metrics *metrics.Metrics

	closeOnce sync.Once
}

// Config contains capture pipeline configuration
type Config struct {
	SampleRate int
	ChunkSize  int
	QueueDepth int
	RetainWAV  bool
	DumpDir    string
}

// NewPipeline creates a capture pipeline with a bounded chunk queue
func NewPipeline(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Pipeline, error) {
	acc, err := audio.NewAccumulator(cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create accumulator: %w", err)
	}

	if cfg.QueueDepth < 1 {
		return nil, fmt.Errorf("queue depth must be at least 1, got %d", cfg.QueueDepth)
	}

	return &Pipeline{
		acc:        acc,
		chunks:     make(chan []float32, cfg.QueueDepth),
		sampleRate: cfg.SampleRate,
		retainWAV:  cfg.RetainWAV,
		dumpDir:    cfg.DumpDir,
		logger:     logger,
		metrics:    m,
	}, nil
}

// PushFrame feeds one capture frame into the accumulator and enqueues any
// completed chunks. The realtime capture side must never block, so when the
// queue is full the oldest queued chunk is discarded and counted.
func (p *Pipeline) PushFrame(frame []float32) {
	p.metrics.RecordFrameReceived()

	for _, chunk := range p.acc.Push(frame) {
		p.metrics.RecordChunkEmitted()

		if p.retainWAV {
			p.retainedMu.Lock()
			p.retained = append(p.retained, chunk...)
			p.retainedMu.Unlock()
		}

		for {
			select {
			case p.chunks <- chunk:
				p.metrics.SetChunkQueueSize(len(p.chunks))
			default:
				// Queue full: drop the oldest chunk to make room.
				select {
				case <-p.chunks:
					p.metrics.RecordChunkDropped()
					p.logger.Warn("Chunk queue full, dropping oldest chunk")
				default:
				}
				continue
			}
			break
		}
	}
}

// Chunks returns the channel of completed chunks for the session controller
func (p *Pipeline) Chunks() <-chan []float32 {
	return p.chunks
}

// Reset clears buffered samples and retained audio, e.g. on manual restart
func (p *Pipeline) Reset() {
	p.acc.Reset()

	p.retainedMu.Lock()
	p.retained = nil
	p.retainedMu.Unlock()

	// Drain queued chunks so a new recording starts clean.
	for {
		select {
		case <-p.chunks:
		default:
			p.metrics.SetChunkQueueSize(0)
			return
		}
	}
}

// Pending returns the number of samples buffered below one chunk
func (p *Pipeline) Pending() int {
	return p.acc.Pending()
}

// GetStats returns the underlying accumulator statistics
func (p *Pipeline) GetStats() audio.AccumulatorStats {
	return p.acc.GetStats()
}

// DumpWAV writes retained audio to a timestamped WAV file and clears the
// retention buffer. Returns the written path, or "" when retention is off or
// no audio was captured.
func (p *Pipeline) DumpWAV() (string, error) {
	if !p.retainWAV {
		return "", nil
	}

	p.retainedMu.Lock()
	samples := p.retained
	p.retained = nil
	p.retainedMu.Unlock()

	if len(samples) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(p.dumpDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dump directory: %w", err)
	}

	path := filepath.Join(p.dumpDir, fmt.Sprintf("recording-%s.wav", time.Now().Format("20060102-150405")))
	if err := audio.WriteWAVFile(path, samples, p.sampleRate); err != nil {
		return "", err
	}

	p.logger.Info("Recording dumped",
		slog.String("path", path),
		slog.Int("samples", len(samples)),
	)

	return path, nil
}

// Close releases the pipeline's chunk queue. Safe to call more than once.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.chunks)
	})
}
