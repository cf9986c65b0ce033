package bus

import (
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/loqa-dictate/internal/pipeline"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

// Publisher mirrors pipeline events onto the bus.
type Publisher struct {
	client *Client
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) OnTransition(t pipeline.Transition) {
	msg := protocol.StateChange{
		SessionID: t.Session,
		From:      t.From.String(),
		To:        t.To.String(),
		Timestamp: t.At.UTC(),
		Error:     errString(t.Err),
	}
	p.publish(protocol.SubjectState, msg)
}

func (p *Publisher) OnEmission(e pipeline.Emission) {
	p.publish(protocol.SubjectTranscript, TranscriptFrom(e))
}

func (p *Publisher) OnFailure(f pipeline.Failure) {
	msg := protocol.Failure{
		SessionID: f.Session,
		Stage:     f.Stage,
		Sequence:  f.Seq,
		Error:     errString(f.Err),
		Timestamp: f.At.UTC(),
	}
	p.publish(protocol.SubjectFailure, msg)
}

// TranscriptFrom converts an emission into its wire form.
func TranscriptFrom(e pipeline.Emission) protocol.Transcript {
	seg := e.Segment
	return protocol.Transcript{
		SessionID:  seg.Session,
		Sequence:   seg.Seq,
		Kind:       seg.Kind.String(),
		Text:       seg.Text,
		Language:   seg.Language,
		CapturedAt: seg.CapturedAt.UTC(),
		Timestamp:  e.At.UTC(),
		LatencyMS:  seg.Latency.Milliseconds(),
		Error:      errString(e.Err),
	}
}

func (p *Publisher) publish(subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.client.Logger().Warn("failed to marshal bus message", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := p.client.Conn().Publish(subject, data); err != nil {
		p.client.Logger().Warn("failed to publish bus message", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
