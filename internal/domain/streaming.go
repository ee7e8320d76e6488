package domain

import "time"

// StreamState is the streaming manager's state machine position.
//
//	idle → connecting → waiting → streaming ⇄ buffering → completing
//	                                → completed | error | cancelled
type StreamState string

const (
	StreamIdle       StreamState = "idle"
	StreamConnecting StreamState = "connecting"
	StreamWaiting    StreamState = "waiting"
	StreamStreaming  StreamState = "streaming"
	StreamBuffering  StreamState = "buffering"
	StreamCompleting StreamState = "completing"
	StreamCompleted  StreamState = "completed"
	StreamError      StreamState = "error"
	StreamCancelled  StreamState = "cancelled"
)

// Terminal reports whether the stream reached a final state.
func (s StreamState) Terminal() bool {
	return s == StreamCompleted || s == StreamError || s == StreamCancelled
}

// StreamingProgress is a snapshot of one active stream. One instance per
// stream; destroyed on completion, cancel or reset.
type StreamingProgress struct {
	State              StreamState `json:"state"`
	Content            string      `json:"content"`
	TokensReceived     int         `json:"tokens_received"`
	FirstTokenLatencyMs int64      `json:"first_token_latency_ms,omitempty"`
	LastChunkAt        time.Time   `json:"last_chunk_at,omitempty"`
	ChunkCount         int         `json:"chunk_count"`
	ConnectionHealthy  bool        `json:"connection_healthy"`
}
