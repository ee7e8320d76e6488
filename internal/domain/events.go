package domain

import "time"

// EventTopic names a category of events published on the internal bus.
type EventTopic string

const (
	TopicRequestStarted   EventTopic = "request.started"
	TopicRequestSucceeded EventTopic = "request.succeeded"
	TopicRequestFailed    EventTopic = "request.failed"
	TopicRequestCancelled EventTopic = "request.cancelled"
	TopicStreamStarted    EventTopic = "stream.started"
	TopicStreamChunk      EventTopic = "stream.chunk"
	TopicStreamEnded      EventTopic = "stream.ended"
	TopicStreamError      EventTopic = "stream.error"
	TopicQuotaUpdated     EventTopic = "quota.updated"
	TopicQuotaExceeded    EventTopic = "quota.exceeded"
	TopicUnauthorized     EventTopic = "auth.unauthorized"
	TopicPhaseChanged     EventTopic = "rollout.phase_changed"
	TopicRollback         EventTopic = "rollout.rollback"
)

// RequestEvent describes a request lifecycle change.
type RequestEvent struct {
	RequestID string        `json:"request_id"`
	Feature   string        `json:"feature,omitempty"`
	Status    RequestStatus `json:"status"`
	Error     *RequestError `json:"error,omitempty"`
	LatencyMs int64         `json:"latency_ms,omitempty"`
	Retries   int           `json:"retries,omitempty"`
}

// StreamEvent describes stream progress for observers.
type StreamEvent struct {
	RequestID  string      `json:"request_id"`
	State      StreamState `json:"state"`
	ChunkCount int         `json:"chunk_count,omitempty"`
	Tokens     int         `json:"tokens,omitempty"`
	Err        string      `json:"error,omitempty"`
}

// QuotaEvent reports client-side rate limit consumption.
type QuotaEvent struct {
	Used        int `json:"used"`
	Limit       int `json:"limit"`
	WaitSeconds int `json:"wait_seconds,omitempty"`
}

// PhaseChangeEvent announces a rollout phase move in either direction.
type PhaseChangeEvent struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Rollback  bool      `json:"rollback"`
	Automatic bool      `json:"automatic"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
