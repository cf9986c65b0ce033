package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/nats-io/nats.go"
)

type recordingEmitter struct {
	mu    sync.Mutex
	texts []string
}

func (e *recordingEmitter) Emit(_ context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	return nil
}

func (e *recordingEmitter) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.texts...)
}

// writeSpeechFixture writes 0.5 s silence, 1 s tone and 1.5 s silence.
func writeSpeechFixture(t *testing.T) string {
	t.Helper()
	var samples []int16
	samples = append(samples, make([]int16, 8000)...)
	for i := 0; i < 16000; i++ {
		samples = append(samples, int16(8000*math.Sin(2*math.Pi*440*float64(i)/16000)))
	}
	samples = append(samples, make([]int16, 24000)...)

	path := filepath.Join(t.TempDir(), "speech.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, audio.Int16ToBytes(samples), 16000, 1); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.HTTP.Port = 0
	cfg.Telemetry.PrometheusBind = "127.0.0.1:0"
	cfg.Bus.Port = -1
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "dictate.db")
	cfg.Audio.Source = "wav"
	cfg.Audio.WAVPath = writeSpeechFixture(t)
	cfg.Audio.Realtime = false
	cfg.STT.PollMS = 10
	cfg.Output.InsertMode = "none"
	cfg.Output.LogTranscripts = true
	return cfg
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestRuntimeDictatesWAVFile(t *testing.T) {
	emitter := &recordingEmitter{}
	rt := New(testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)), WithEmitter(emitter))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("runtime returned error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("runtime did not shut down")
		}
	}()

	select {
	case <-rt.Ready():
	case err := <-done:
		t.Fatalf("runtime exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime not ready")
	}
	base := "http://" + rt.Addr()

	resp, err := http.Get(base + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", resp.StatusCode)
	}

	resp, err = http.Post(base+"/v1/pipeline/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	var st protocol.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	resp.Body.Close()
	if st.State != "running" || st.Engine != "mock" {
		t.Fatalf("unexpected status after toggle %+v", st)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(emitter.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	texts := emitter.snapshot()
	if len(texts) != 1 || texts[0] != "[transcript samples=16000 lang=auto] " {
		t.Fatalf("unexpected emitted text %q", texts)
	}

	// Remote control over the embedded bus.
	nc, err := nats.Connect(rt.nats.ClientURL())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	defer nc.Close()
	msg, err := nc.Request(protocol.SubjectControl, []byte(`{"action":"stop"}`), 5*time.Second)
	if err != nil {
		t.Fatalf("control request: %v", err)
	}
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("decode bus status: %v", err)
	}
	if st.State != "stopped" || st.SegmentsEmitted != 1 {
		t.Fatalf("unexpected status after stop %+v", st)
	}

	var sessions []sessionView
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		getJSON(t, base+"/v1/sessions", &sessions)
		if len(sessions) == 1 && sessions[0].Segments == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(sessions) != 1 || sessions[0].Segments != 1 || sessions[0].EndedAt.IsZero() {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	var events []eventView
	getJSON(t, base+"/v1/sessions/"+sessions[0].ID, &events)
	var transcript []string
	for _, e := range events {
		if e.Type == "transcript" {
			transcript = append(transcript, e.Text)
		}
	}
	if strings.Join(transcript, " ") != "[transcript samples=16000 lang=auto]" {
		t.Fatalf("unexpected stored transcript %q", transcript)
	}

	resp, err = http.Post(base+"/v1/pipeline/rewind", "application/json", nil)
	if err != nil {
		t.Fatalf("unknown action: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", resp.StatusCode)
	}
}
