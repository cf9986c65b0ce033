package protocol

import "time"

// Transcript is published for every emitted segment.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Sequence   uint64    `json:"sequence"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	Timestamp  time.Time `json:"timestamp"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

// StateChange is published on every pipeline lifecycle transition.
type StateChange struct {
	SessionID string    `json:"session_id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Failure reports a recoverable error inside a running pipeline.
type Failure struct {
	SessionID string    `json:"session_id,omitempty"`
	Stage     string    `json:"stage"`
	Sequence  uint64    `json:"sequence,omitempty"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type ControlRequest struct {
	Action string `json:"action"`
}

// Status is the reply to every control request.
type Status struct {
	State           string    `json:"state"`
	SessionID       string    `json:"session_id,omitempty"`
	Since           time.Time `json:"since"`
	Engine          string    `json:"engine"`
	Model           string    `json:"model,omitempty"`
	InsertMode      string    `json:"insert_mode"`
	Strategy        string    `json:"strategy"`
	VAD             bool      `json:"vad"`
	QueuedChunks    int       `json:"queued_chunks"`
	PendingSegments int       `json:"pending_segments"`
	SegmentsEmitted int64     `json:"segments_emitted"`
	Error           string    `json:"error,omitempty"`
}

const (
	ActionToggle = "toggle"
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionStatus = "status"
)

const (
	SubjectTranscript = "dictate.transcript"
	SubjectState      = "dictate.state"
	SubjectFailure    = "dictate.failure"
	SubjectControl    = "dictate.control"
)
