// Package streaming buffers and flushes chunked AI responses. The manager
// trades render smoothness against latency: small buffers flush fast but
// cause visual jitter, large buffers smooth output but delay first paint.
package streaming

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/classpilot/aihub-go/internal/domain"
	"github.com/classpilot/aihub-go/internal/events"
	"github.com/classpilot/aihub-go/internal/infra/observability"

	"go.uber.org/zap"
)

// connectGrace is how long after Start the manager waits for a first sign
// of life before moving connecting → waiting.
const connectGrace = 250 * time.Millisecond

// Config holds the buffering knobs.
type Config struct {
	BufferSize   int           // flush once this many buffered bytes accumulate (multi-byte runes count per byte)
	FlushEvery   time.Duration // flush on this timeout even below BufferSize
	StallTimeout time.Duration // no chunk for this long while streaming flags the connection
	ResetDelay   time.Duration // delay before auto-reset after a terminal state
}

// FlushFunc receives each flushed text segment, in order.
type FlushFunc func(text string)

// Manager drives one stream at a time through
// idle → connecting → waiting → streaming ⇄ buffering → completing →
// completed | error | cancelled, then auto-resets to idle for reuse.
type Manager struct {
	mu      sync.Mutex
	clock   clock.Clock
	cfg     Config
	bus     *events.Bus
	metrics *observability.Metrics
	logger  *zap.Logger

	onFlush   FlushFunc
	requestID string
	progress  domain.StreamingProgress
	buffer    strings.Builder
	startedAt time.Time
	gen       int // invalidates timers from a previous stream

	flushTimer *clock.Timer
	stallTimer *clock.Timer
}

// NewManager creates a reusable streaming manager. A nil clk uses real time.
func NewManager(cfg Config, onFlush FlushFunc, bus *events.Bus, metrics *observability.Metrics, logger *zap.Logger, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		clock:    clk,
		cfg:      cfg,
		bus:      bus,
		metrics:  metrics,
		logger:   logger,
		onFlush:  onFlush,
		progress: domain.StreamingProgress{State: domain.StreamIdle, ConnectionHealthy: true},
	}
}

// Start resets progress, begins timing and transitions to connecting.
func (m *Manager) Start(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()
	m.requestID = requestID
	m.startedAt = m.clock.Now()
	m.progress.State = domain.StreamConnecting

	gen := m.gen
	m.clock.AfterFunc(connectGrace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen == gen && m.progress.State == domain.StreamConnecting {
			m.progress.State = domain.StreamWaiting
		}
	})

	m.bus.Publish(domain.TopicStreamStarted, domain.StreamEvent{
		RequestID: requestID,
		State:     domain.StreamConnecting,
	})
}

// HandleChunk ingests one chunk of text. The first chunk records
// first-token latency; subsequent chunks restore a stalled connection.
func (m *Manager) HandleChunk(text string, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.progress.State.Terminal() || m.progress.State == domain.StreamIdle {
		return // late chunk after completion/cancel
	}

	now := m.clock.Now()
	if m.progress.ChunkCount == 0 {
		latency := now.Sub(m.startedAt)
		m.progress.FirstTokenLatencyMs = latency.Milliseconds()
		m.metrics.RecordFirstTokenLatency(latency)
	}

	m.progress.ChunkCount++
	m.progress.TokensReceived += tokens
	m.progress.LastChunkAt = now
	m.progress.ConnectionHealthy = true // recovery on next chunk
	m.progress.State = domain.StreamStreaming
	m.metrics.IncrStreamChunk()

	m.buffer.WriteString(text)
	if m.buffer.Len() >= m.cfg.BufferSize {
		m.flushLocked()
	} else if m.buffer.Len() > 0 {
		m.progress.State = domain.StreamBuffering
		m.armFlushTimerLocked()
	}
	m.armStallTimerLocked()

	m.bus.Publish(domain.TopicStreamChunk, domain.StreamEvent{
		RequestID:  m.requestID,
		State:      m.progress.State,
		ChunkCount: m.progress.ChunkCount,
		Tokens:     m.progress.TokensReceived,
	})
}

// Complete flushes the remaining buffer and transitions to completed (or
// error). The manager auto-resets after the configured delay so the UI can
// show a completion animation before reuse.
func (m *Manager) Complete(success bool, totalTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.progress.State.Terminal() || m.progress.State == domain.StreamIdle {
		return
	}

	m.progress.State = domain.StreamCompleting
	m.flushLocked()
	m.stopTimersLocked()

	if totalTokens > m.progress.TokensReceived {
		m.progress.TokensReceived = totalTokens
	}

	topic := domain.TopicStreamEnded
	if success {
		m.progress.State = domain.StreamCompleted
	} else {
		m.progress.State = domain.StreamError
		topic = domain.TopicStreamError
	}

	m.metrics.RecordTokens("stream", m.progress.TokensReceived)
	m.bus.Publish(topic, domain.StreamEvent{
		RequestID:  m.requestID,
		State:      m.progress.State,
		ChunkCount: m.progress.ChunkCount,
		Tokens:     m.progress.TokensReceived,
	})

	m.scheduleResetLocked()
}

// Cancel flushes what arrived and transitions to cancelled. A cancelled
// stream is user-initiated and never counts as a failure for rollout
// health metrics.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.progress.State.Terminal() || m.progress.State == domain.StreamIdle {
		return
	}

	m.flushLocked()
	m.stopTimersLocked()
	m.progress.State = domain.StreamCancelled

	m.bus.Publish(domain.TopicStreamEnded, domain.StreamEvent{
		RequestID:  m.requestID,
		State:      domain.StreamCancelled,
		ChunkCount: m.progress.ChunkCount,
		Tokens:     m.progress.TokensReceived,
	})

	m.scheduleResetLocked()
}

// Reset returns the manager to idle immediately.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// Progress returns a snapshot of the current stream.
func (m *Manager) Progress() domain.StreamingProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// flushLocked emits the accumulated buffer to the caller and clears it.
func (m *Manager) flushLocked() {
	if m.buffer.Len() == 0 {
		return
	}
	text := m.buffer.String()
	m.buffer.Reset()
	m.progress.Content += text
	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
	}
	if m.progress.State == domain.StreamBuffering {
		m.progress.State = domain.StreamStreaming
	}
	if m.onFlush != nil {
		m.onFlush(text)
	}
}

func (m *Manager) armFlushTimerLocked() {
	if m.flushTimer != nil {
		return // already pending
	}
	gen := m.gen
	m.flushTimer = m.clock.AfterFunc(m.cfg.FlushEvery, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			return
		}
		m.flushTimer = nil
		m.flushLocked()
	})
}

func (m *Manager) armStallTimerLocked() {
	if m.stallTimer != nil {
		m.stallTimer.Stop()
	}
	gen := m.gen
	m.stallTimer = m.clock.AfterFunc(m.cfg.StallTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			return
		}
		if m.progress.State == domain.StreamStreaming || m.progress.State == domain.StreamBuffering {
			m.progress.ConnectionHealthy = false
			m.metrics.IncrStreamStall()
			m.logger.Warn("stream stalled",
				zap.String("request_id", m.requestID),
				zap.Int("chunks", m.progress.ChunkCount),
			)
		}
	})
}

func (m *Manager) scheduleResetLocked() {
	gen := m.gen
	m.clock.AfterFunc(m.cfg.ResetDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen == gen {
			m.resetLocked()
		}
	})
}

func (m *Manager) stopTimersLocked() {
	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
	}
	if m.stallTimer != nil {
		m.stallTimer.Stop()
		m.stallTimer = nil
	}
}

func (m *Manager) resetLocked() {
	m.gen++
	m.stopTimersLocked()
	m.buffer.Reset()
	m.requestID = ""
	m.progress = domain.StreamingProgress{State: domain.StreamIdle, ConnectionHealthy: true}
}
