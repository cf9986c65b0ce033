package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/pipeline"
)

const (
	TypeState      = "state"
	TypeTranscript = "transcript"
	TypeFailure    = "failure"
)

// Recorder persists pipeline events. Transcripts are only written when
// transcript logging is enabled; lifecycle events always are.
type Recorder struct {
	store       *Store
	transcripts bool
	engine      string
	model       string
	log         *slog.Logger
	timeout     time.Duration
}

func NewRecorder(store *Store, logTranscripts bool, engine, model string, log *slog.Logger) *Recorder {
	return &Recorder{
		store:       store,
		transcripts: logTranscripts,
		engine:      engine,
		model:       model,
		log:         log.With(slog.String("component", "eventstore")),
		timeout:     2 * time.Second,
	}
}

type statePayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
}

type transcriptPayload struct {
	Kind       string    `json:"kind"`
	CapturedAt time.Time `json:"captured_at"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
}

type failurePayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

func (r *Recorder) OnTransition(t pipeline.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	switch t.To {
	case pipeline.StateStarting:
		if err := r.store.BeginSession(ctx, t.Session, r.engine, r.model); err != nil {
			r.warn("begin session", err)
			return
		}
	case pipeline.StateStopped:
		if err := r.store.EndSession(ctx, t.Session); err != nil {
			r.warn("end session", err)
		}
	}
	r.append(ctx, Event{
		SessionID: t.Session,
		Type:      TypeState,
		Payload:   marshal(statePayload{From: t.From.String(), To: t.To.String(), Error: errString(t.Err)}),
		CreatedAt: t.At,
	})
}

func (r *Recorder) OnEmission(e pipeline.Emission) {
	if !r.transcripts {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	seg := e.Segment
	r.append(ctx, Event{
		SessionID: seg.Session,
		Seq:       seg.Seq,
		Type:      TypeTranscript,
		Text:      seg.Text,
		Payload: marshal(transcriptPayload{
			Kind:       seg.Kind.String(),
			CapturedAt: seg.CapturedAt.UTC(),
			LatencyMS:  seg.Latency.Milliseconds(),
			Error:      errString(e.Err),
		}),
		CreatedAt: e.At,
	})
}

func (r *Recorder) OnFailure(f pipeline.Failure) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.append(ctx, Event{
		SessionID: f.Session,
		Seq:       f.Seq,
		Type:      TypeFailure,
		Payload:   marshal(failurePayload{Stage: f.Stage, Error: errString(f.Err)}),
		CreatedAt: f.At,
	})
}

func (r *Recorder) append(ctx context.Context, evt Event) {
	if evt.SessionID == "" {
		return
	}
	if err := r.store.AppendEvent(ctx, evt); err != nil {
		r.warn("append event", err)
	}
}

func (r *Recorder) warn(op string, err error) {
	r.log.Warn("event store write failed", slog.String("op", op), slog.String("error", err.Error()))
}

func marshal(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
