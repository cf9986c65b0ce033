package pipeline

import (
	"time"

	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// Transition describes a lifecycle state change. Err is set when a start
// attempt failed and the controller fell back to Stopped.
type Transition struct {
	Session string
	From    State
	To      State
	At      time.Time
	Err     error
}

// Emission describes a segment handed to the text emitter.
type Emission struct {
	Segment stt.Segment
	Text    string
	At      time.Time
	Err     error
}

// Failure is a recoverable error inside a running pipeline.
type Failure struct {
	Session string
	Stage   string
	Seq     uint64
	Err     error
	At      time.Time
}

// Observer receives pipeline events. Callbacks run on pipeline goroutines
// and must return quickly.
type Observer interface {
	OnTransition(Transition)
	OnEmission(Emission)
	OnFailure(Failure)
}
