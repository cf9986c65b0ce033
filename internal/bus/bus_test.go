package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/pipeline"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func connectEmbedded(t *testing.T) *Client {
	t.Helper()
	cfg := config.BusConfig{Embedded: true, Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, "loqa-dictate-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	if !client.Healthy() {
		t.Fatal("expected healthy client")
	}
	return client
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, "x", newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

func TestPublisherTranscript(t *testing.T) {
	client := connectEmbedded(t)
	msgs := make(chan *nats.Msg, 4)
	sub, err := client.Conn().ChanSubscribe(protocol.SubjectTranscript, msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pub := NewPublisher(client)
	captured := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	pub.OnEmission(pipeline.Emission{
		Segment: stt.Segment{
			Session:    "s-1",
			Text:       "hello world",
			Seq:        7,
			Kind:       chunk.KindUtteranceFlush,
			CapturedAt: captured,
			Latency:    420 * time.Millisecond,
		},
		Text: "hello world ",
		At:   captured.Add(time.Second),
	})

	select {
	case msg := <-msgs:
		var tr protocol.Transcript
		if err := json.Unmarshal(msg.Data, &tr); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if tr.SessionID != "s-1" || tr.Sequence != 7 || tr.Text != "hello world" || tr.Kind != "utterance_flush" {
			t.Fatalf("unexpected transcript %+v", tr)
		}
		if tr.LatencyMS != 420 {
			t.Fatalf("expected latency 420ms, got %d", tr.LatencyMS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript not published")
	}
}

func TestPublisherStateAndFailure(t *testing.T) {
	client := connectEmbedded(t)
	msgs := make(chan *nats.Msg, 4)
	sub, err := client.Conn().ChanSubscribe("dictate.>", msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pub := NewPublisher(client)
	pub.OnTransition(pipeline.Transition{Session: "s-2", From: pipeline.StateStarting, To: pipeline.StateStopped, At: time.Now(), Err: errors.New("no microphone")})
	pub.OnFailure(pipeline.Failure{Session: "s-2", Stage: "transcribe", Seq: 3, Err: errors.New("timeout"), At: time.Now()})

	for i := 0; i < 2; i++ {
		select {
		case msg := <-msgs:
			switch msg.Subject {
			case protocol.SubjectState:
				var sc protocol.StateChange
				if err := json.Unmarshal(msg.Data, &sc); err != nil {
					t.Fatalf("decode state: %v", err)
				}
				if sc.From != "starting" || sc.To != "stopped" || sc.Error != "no microphone" {
					t.Fatalf("unexpected state change %+v", sc)
				}
			case protocol.SubjectFailure:
				var f protocol.Failure
				if err := json.Unmarshal(msg.Data, &f); err != nil {
					t.Fatalf("decode failure: %v", err)
				}
				if f.Stage != "transcribe" || f.Sequence != 3 {
					t.Fatalf("unexpected failure %+v", f)
				}
			default:
				t.Fatalf("unexpected subject %s", msg.Subject)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("message not published")
		}
	}
}

type fakeController struct {
	mu      sync.Mutex
	running bool
	actions []string
}

func (f *fakeController) Toggle(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "toggle")
	f.running = !f.running
	return nil
}

func (f *fakeController) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "start")
	f.running = true
	return nil
}

func (f *fakeController) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, "stop")
	f.running = false
	return nil
}

func (f *fakeController) Status() protocol.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return protocol.Status{State: "running"}
	}
	return protocol.Status{State: "stopped"}
}

func request(t *testing.T, client *Client, action string) protocol.Status {
	t.Helper()
	data, _ := json.Marshal(protocol.ControlRequest{Action: action})
	msg, err := client.Conn().Request(protocol.SubjectControl, data, 2*time.Second)
	if err != nil {
		t.Fatalf("request %s: %v", action, err)
	}
	var st protocol.Status
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func TestControlResponder(t *testing.T) {
	client := connectEmbedded(t)
	ctrl := &fakeController{}
	responder := NewControlResponder(client, ctrl)
	if err := responder.Start(); err != nil {
		t.Fatalf("start responder: %v", err)
	}
	defer responder.Close()

	if st := request(t, client, protocol.ActionToggle); st.State != "running" {
		t.Fatalf("expected running after toggle, got %+v", st)
	}
	if st := request(t, client, protocol.ActionStatus); st.State != "running" || st.Error != "" {
		t.Fatalf("unexpected status %+v", st)
	}
	if st := request(t, client, protocol.ActionStop); st.State != "stopped" {
		t.Fatalf("expected stopped, got %+v", st)
	}
	if st := request(t, client, "rewind"); st.Error == "" {
		t.Fatal("expected error for unknown action")
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.actions) != 2 {
		t.Fatalf("expected toggle and stop, got %v", ctrl.actions)
	}
}
