package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mmaudet/twake-assistant/internal/metrics"
	"github.com/mmaudet/twake-assistant/internal/store"
	"github.com/mmaudet/twake-assistant/internal/transcription"
)

// State represents the session controller lifecycle state
type State int

const (
	StateIdle State = iota
	StateCreating
	StateActive
	StateEnding
	StateError
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreating:
		return "creating"
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Recorder persists completed transcriptions. *store.Store satisfies it; the
// narrow interface keeps the controller testable without CouchDB.
type Recorder interface {
	SaveTranscription(ctx context.Context, rec *store.TranscriptionRecord) error
}

// Snapshot is a point-in-time view of the controller for the API layer
type Snapshot struct {
	State           string                  `json:"state"`
	SessionID       string                  `json:"session_id,omitempty"`
	Language        string                  `json:"language,omitempty"`
	Committed       []transcription.Segment `json:"committed"`
	Uncommitted     []transcription.Segment `json:"uncommitted"`
	CommittedText   string                  `json:"committed_text"`
	UncommittedText string                  `json:"uncommitted_text"`
	StartedAt       time.Time               `json:"started_at,omitempty"`
	LastError       string                  `json:"last_error,omitempty"`
}

// Controller owns one transcription session at a time: it creates the remote
// session, forwards audio chunks, polls process results on a fixed interval,
// and persists the committed text when the session ends. All session state
// (identifier, committed and uncommitted lists) is owned exclusively by the
// controller; the capture side communicates through the chunk channel only.
type Controller struct {
	client   *transcription.Client
	recorder Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics

	pollInterval time.Duration

	// Session state, guarded by mu
	state       State
	sessionID   string
	language    string
	startedAt   time.Time
	committed   []transcription.Segment
	uncommitted []transcription.Segment
	pendingSave bool
	lastError   string

	// Poll-response ordering guard: results are applied only when their
	// sequence number is newer than the last applied one.
	pollSeq    uint64
	appliedSeq uint64

	// Poll loop lifecycle; at most one loop exists at any time
	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup

	mu sync.Mutex
}

// Config contains session controller configuration
type Config struct {
	PollInterval time.Duration
}

// NewController creates a session controller
func NewController(cfg Config, client *transcription.Client, recorder Recorder, logger *slog.Logger, m *metrics.Metrics) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &Controller{
		client:       client,
		recorder:     recorder,
		logger:       logger,
		metrics:      m,
		pollInterval: cfg.PollInterval,
		state:        StateIdle,
	}
}

// Start creates a remote session and begins the polling loop, consuming
// chunks from the given channel until Stop. Starting while a session is
// already active is rejected; the caller must stop first. A previous Error
// state is cleared by starting again.
func (c *Controller) Start(ctx context.Context, language string, chunks <-chan []float32) error {
	c.mu.Lock()
	if c.state == StateActive || c.state == StateCreating || c.state == StateEnding {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot start: session is %s, stop it first", state)
	}

	// Error is only left through Idle on the next start.
	c.state = StateCreating
	c.language = language
	c.committed = nil
	c.uncommitted = nil
	c.lastError = ""
	c.pollSeq = 0
	c.appliedSeq = 0
	c.mu.Unlock()

	sessionID, err := c.client.CreateSession(ctx, language)
	if err != nil {
		c.mu.Lock()
		c.state = StateError
		c.sessionID = ""
		c.lastError = err.Error()
		c.mu.Unlock()

		c.metrics.RecordSessionError()
		c.logger.Error("Failed to create session",
			slog.String("language", language),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("session create failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.sessionID = sessionID
	c.state = StateActive
	c.startedAt = time.Now()
	c.pendingSave = true
	c.loopCancel = cancel
	c.mu.Unlock()

	c.metrics.RecordSessionStarted()
	c.metrics.SetCommittedSegments(0)
	c.logger.Info("Session started",
		slog.String("session_id", sessionID),
		slog.String("language", language),
	)

	c.loopWG.Add(1)
	go c.run(loopCtx, sessionID, chunks)

	return nil
}

// run is the single goroutine that transmits chunks and polls results.
// Because every poll is issued here sequentially, process calls never
// overlap and responses cannot arrive out of order within the loop; the
// sequence guard in applyResult additionally protects against the final
// poll racing a shutdown.
func (c *Controller) run(ctx context.Context, sessionID string, chunks <-chan []float32) {
	defer c.loopWG.Done()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-chunks:
			if !ok {
				// Capture pipeline closed; keep polling until Stop.
				chunks = nil
				continue
			}
			c.sendChunk(ctx, sessionID, chunk)

		case <-ticker.C:
			c.poll(ctx, sessionID)
		}
	}
}

// sendChunk transmits one chunk. Failures are surfaced and counted but never
// abort the session or stop capture.
func (c *Controller) sendChunk(ctx context.Context, sessionID string, chunk []float32) {
	if err := c.client.AddChunk(ctx, sessionID, chunk); err != nil {
		c.metrics.RecordChunkSendFailure()
		c.setLastError(err)
		c.logger.Warn("Failed to send chunk",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.metrics.RecordChunkSent()
}

// poll issues one process call and merges the result
func (c *Controller) poll(ctx context.Context, sessionID string) {
	c.mu.Lock()
	c.pollSeq++
	seq := c.pollSeq
	c.mu.Unlock()

	startTime := time.Now()
	result, err := c.client.Process(ctx, sessionID)
	c.metrics.RecordPoll(err == nil, time.Since(startTime).Seconds())

	if err != nil {
		c.setLastError(err)
		c.logger.Warn("Process poll failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.applyResult(seq, result)
}

// applyResult merges a process response into local display state.
//
// Merge contract: the committed list is replaced only by a non-empty
// response committed list — an empty or absent one never erases previously
// committed text — and never by one shorter than what is already held, so
// committed text cannot regress within a session. The uncommitted list is
// replaced wholesale on every response. Results older than the last applied
// one are discarded.
func (c *Controller) applyResult(seq uint64, result *transcription.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq <= c.appliedSeq {
		c.metrics.RecordStaleResponse()
		return
	}
	c.appliedSeq = seq

	if len(result.Committed) > 0 && len(result.Committed) >= len(c.committed) {
		c.committed = result.Committed
	}

	c.uncommitted = result.Uncommitted
	if c.uncommitted == nil {
		c.uncommitted = []transcription.Segment{}
	}

	c.metrics.SetCommittedSegments(len(c.committed))
}

// Stop finalizes the session: one last process, then end, then persist the
// committed text. Called with no session active it is a no-op. Errors during
// finalization are surfaced but the controller always returns to Idle; the
// remote resource is presumed server-side-reaped regardless.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		// No-op outside Active, including Error: the only way out of Error
		// is the next start.
		c.mu.Unlock()
		return nil
	}
	c.state = StateEnding
	sessionID := c.sessionID
	cancel := c.loopCancel
	c.loopCancel = nil
	startedAt := c.startedAt
	c.mu.Unlock()

	// Cancel the polling loop first so the final process below cannot race
	// a ticker poll. The timer is gone after this, whatever else fails.
	if cancel != nil {
		cancel()
	}
	c.loopWG.Wait()

	var firstErr error

	// Final reconcile before ending.
	c.mu.Lock()
	c.pollSeq++
	seq := c.pollSeq
	c.mu.Unlock()

	startTime := time.Now()
	result, err := c.client.Process(ctx, sessionID)
	c.metrics.RecordPoll(err == nil, time.Since(startTime).Seconds())
	if err != nil {
		firstErr = fmt.Errorf("final process failed: %w", err)
		c.setLastError(err)
	} else {
		c.applyResult(seq, result)
	}

	if err := c.client.End(ctx, sessionID); err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("session end failed: %w", err)
		}
		c.setLastError(err)
		c.logger.Warn("Failed to end session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	c.mu.Lock()
	c.sessionID = ""
	c.state = StateIdle
	c.uncommitted = nil
	text := joinSegments(c.committed)
	wordCount := len(c.committed)
	language := c.language
	save := c.pendingSave && text != ""
	c.pendingSave = false
	c.mu.Unlock()

	c.metrics.RecordSessionEnded(time.Since(startedAt).Seconds())
	c.logger.Info("Session ended",
		slog.String("session_id", sessionID),
		slog.Duration("duration", time.Since(startedAt)),
		slog.Int("committed_segments", wordCount),
	)

	if save {
		rec := &store.TranscriptionRecord{
			Text:      text,
			Language:  language,
			CreatedAt: time.Now().UTC(),
			WordCount: wordCount,
		}
		if err := c.recorder.SaveTranscription(ctx, rec); err != nil {
			// The in-memory transcription is kept; the user can still copy
			// or export it from the snapshot.
			c.metrics.RecordRecordSaveFailure()
			c.setLastError(err)
			c.logger.Error("Failed to persist transcription", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = fmt.Errorf("transcription save failed: %w", err)
			}
		} else {
			c.metrics.RecordRecordSaved()
		}
	}

	return firstErr
}

// Clear resets the remote session buffers and the local segment lists while
// staying Active
func (c *Controller) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return fmt.Errorf("cannot clear: no active session")
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	if err := c.client.Clear(ctx, sessionID); err != nil {
		c.setLastError(err)
		return err
	}

	c.mu.Lock()
	c.committed = nil
	c.uncommitted = nil
	c.mu.Unlock()
	c.metrics.SetCommittedSegments(0)

	return nil
}

// State returns the current controller state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CommittedText returns the committed segments joined with spaces.
// Uncommitted text is never part of an export.
func (c *Controller) CommittedText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return joinSegments(c.committed)
}

// GetSnapshot returns a point-in-time view for the API layer
func (c *Controller) GetSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	committed := make([]transcription.Segment, len(c.committed))
	copy(committed, c.committed)
	uncommitted := make([]transcription.Segment, len(c.uncommitted))
	copy(uncommitted, c.uncommitted)

	return Snapshot{
		State:           c.state.String(),
		SessionID:       c.sessionID,
		Language:        c.language,
		Committed:       committed,
		Uncommitted:     uncommitted,
		CommittedText:   joinSegments(committed),
		UncommittedText: joinSegments(uncommitted),
		StartedAt:       c.startedAt,
		LastError:       c.lastError,
	}
}

func (c *Controller) setLastError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = err.Error()
}

// joinSegments concatenates segment texts with single spaces, skipping
// empty segments
func joinSegments(segments []transcription.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
