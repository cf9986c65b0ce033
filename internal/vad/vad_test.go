package vad

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

const (
	sampleRate = 16000
	frameMS    = 20
)

var frameBytes = audio.FrameBytes(sampleRate, frameMS)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tone(amplitude float64) []byte {
	samples := make([]int16, frameBytes/2)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/sampleRate))
	}
	return audio.Int16ToBytes(samples)
}

func silence() []byte { return make([]byte, frameBytes) }

// markedFrame returns a frame whose first sample encodes an index so tests can
// check which frames made it into an utterance.
func markedFrame(index int, voiced bool) []byte {
	samples := make([]int16, frameBytes/2)
	samples[0] = int16(index)
	if voiced {
		for i := 1; i < len(samples); i++ {
			samples[i] = 5000
		}
	}
	return audio.Int16ToBytes(samples)
}

func TestEnergyClassifier(t *testing.T) {
	c, err := NewEnergyClassifier(2)
	if err != nil {
		t.Fatalf("new classifier: %v", err)
	}
	voiced, err := c.IsSpeech(tone(8000), sampleRate)
	if err != nil || !voiced {
		t.Fatalf("expected tone to be voiced, got %v (%v)", voiced, err)
	}
	voiced, err = c.IsSpeech(silence(), sampleRate)
	if err != nil || voiced {
		t.Fatalf("expected silence to be unvoiced, got %v (%v)", voiced, err)
	}
}

func TestEnergyClassifierAggressiveness(t *testing.T) {
	quiet := tone(500) // RMS ~354
	permissive, _ := NewEnergyClassifier(0)
	strict, _ := NewEnergyClassifier(3)
	if v, _ := permissive.IsSpeech(quiet, sampleRate); !v {
		t.Fatal("expected permissive classifier to accept quiet speech")
	}
	if v, _ := strict.IsSpeech(quiet, sampleRate); v {
		t.Fatal("expected strict classifier to reject quiet speech")
	}
	if _, err := NewEnergyClassifier(4); err == nil {
		t.Fatal("expected error for aggressiveness 4")
	}
}

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name  string
		bytes int
		rate  int
		ok    bool
	}{
		{"10ms 16k", 320, 16000, true},
		{"20ms 16k", 640, 16000, true},
		{"30ms 16k", 960, 16000, true},
		{"20ms 48k", 1920, 48000, true},
		{"25ms 16k", 800, 16000, false},
		{"20ms 44.1k", 1764, 44100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrame(tt.bytes, tt.rate)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidFrame) {
				t.Fatalf("expected ErrInvalidFrame, got %v", err)
			}
		})
	}
}

type thresholdClassifier struct{}

func (thresholdClassifier) IsSpeech(frame []byte, rate int) (bool, error) {
	if err := ValidateFrame(len(frame), rate); err != nil {
		return false, err
	}
	return RMS(frame) > 1000, nil
}

func newSegmenter(enabled bool) *Segmenter {
	return NewSegmenter(Config{
		Enabled:      enabled,
		SampleRate:   sampleRate,
		MinSpeech:    300 * time.Millisecond,
		MaxSilence:   800 * time.Millisecond,
		MaxUtterance: 30 * time.Second,
	}, thresholdClassifier{}, newLogger())
}

type feedResult struct {
	flushes [][]byte
	started int
}

// feed plays silence, then voicedFrames of speech, then trailing silence long
// enough to close the utterance, and collects every flush.
func feed(s *Segmenter, leading, voicedFrames, trailing int) feedResult {
	var res feedResult
	now := time.Unix(1700000000, 0)
	index := 0
	step := func(voiced bool) {
		ev := s.Process(markedFrame(index, voiced), now)
		if ev.Started {
			res.started++
		}
		if ev.Ended {
			res.flushes = append(res.flushes, s.PopBuffer())
		}
		index++
		now = now.Add(frameMS * time.Millisecond)
	}
	for i := 0; i < leading; i++ {
		step(false)
	}
	for i := 0; i < voicedFrames; i++ {
		step(true)
	}
	for i := 0; i < trailing; i++ {
		step(false)
	}
	return res
}

func TestSegmenterFlushesUtterance(t *testing.T) {
	s := newSegmenter(true)
	// 20 voiced frames span 380ms between first and last voiced timestamps.
	res := feed(s, 10, 20, 50)
	if res.started != 1 {
		t.Fatalf("expected one start, got %d", res.started)
	}
	if len(res.flushes) != 1 {
		t.Fatalf("expected exactly one flush, got %d", len(res.flushes))
	}
	flush := res.flushes[0]
	if len(flush) != 20*frameBytes {
		t.Fatalf("expected flush of 20 frames, got %d bytes", len(flush))
	}
	first := audio.Samples(flush[:frameBytes])[0]
	last := audio.Samples(flush[len(flush)-frameBytes:])[0]
	if first != 10 || last != 29 {
		t.Fatalf("expected frames 10..29, got %d..%d", first, last)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after flush, got %v", s.State())
	}
}

func TestSegmenterDiscardsShortUtterance(t *testing.T) {
	s := newSegmenter(true)
	// 10 voiced frames span 180ms, below the 300ms minimum.
	res := feed(s, 5, 10, 50)
	if res.started != 1 {
		t.Fatalf("expected one start, got %d", res.started)
	}
	if len(res.flushes) != 0 {
		t.Fatalf("expected no flush, got %d", len(res.flushes))
	}
	if s.Buffered() != 0 {
		t.Fatalf("expected discarded accumulation, %d bytes left", s.Buffered())
	}
}

func TestSegmenterSilenceThresholdIsStrict(t *testing.T) {
	s := newSegmenter(true)
	// 40 silent frames after the last voiced one reach exactly 800ms; the
	// transition needs strictly more.
	res := feed(s, 0, 20, 40)
	if len(res.flushes) != 0 {
		t.Fatalf("expected no flush at exactly max silence, got %d", len(res.flushes))
	}
	if s.State() != StateInSpeech {
		t.Fatalf("expected to remain in speech, got %v", s.State())
	}
}

func TestSegmenterTrailingPad(t *testing.T) {
	s := NewSegmenter(Config{
		Enabled:      true,
		SampleRate:   sampleRate,
		MinSpeech:    100 * time.Millisecond,
		MaxSilence:   200 * time.Millisecond,
		TrailingPad:  100 * time.Millisecond,
		MaxUtterance: 30 * time.Second,
	}, thresholdClassifier{}, newLogger())
	res := feed(s, 0, 10, 20)
	if len(res.flushes) != 1 {
		t.Fatalf("expected one flush, got %d", len(res.flushes))
	}
	if got := len(res.flushes[0]); got != 15*frameBytes {
		t.Fatalf("expected 10 voiced + 5 pad frames, got %d bytes", got)
	}
}

func TestSegmenterMaxUtteranceForcesFlush(t *testing.T) {
	s := NewSegmenter(Config{
		Enabled:      true,
		SampleRate:   sampleRate,
		MinSpeech:    100 * time.Millisecond,
		MaxSilence:   800 * time.Millisecond,
		MaxUtterance: time.Second,
	}, thresholdClassifier{}, newLogger())
	res := feed(s, 0, 120, 0)
	if len(res.flushes) != 2 {
		t.Fatalf("expected two forced flushes for 2.4s of speech, got %d", len(res.flushes))
	}
	if s.State() != StateInSpeech {
		t.Fatalf("expected to remain in speech, got %v", s.State())
	}
}

func TestSegmenterDisabledBuffersWithoutEvents(t *testing.T) {
	s := newSegmenter(false)
	now := time.Now()
	for i := 0; i < 50; i++ {
		ev := s.Process(markedFrame(i, i%2 == 0), now)
		if ev.Started || ev.Ended {
			t.Fatalf("unexpected event %+v with vad disabled", ev)
		}
	}
	if s.Buffered() != 50*frameBytes {
		t.Fatalf("expected all frames buffered, got %d", s.Buffered())
	}
	if got := len(s.PopBuffer()); got != 50*frameBytes {
		t.Fatalf("expected pop to drain %d bytes, got %d", 50*frameBytes, got)
	}
	if s.Buffered() != 0 {
		t.Fatal("expected empty buffer after pop")
	}
}

func TestSegmenterDisabledBufferStaysBounded(t *testing.T) {
	s := NewSegmenter(Config{
		SampleRate:   sampleRate,
		MaxUtterance: time.Second,
	}, nil, newLogger())
	maxBytes := audio.BytesFor(sampleRate, 1)
	now := time.Now()
	for i := 0; i < 500; i++ {
		s.Process(markedFrame(i, true), now)
		if s.Buffered() > maxBytes {
			t.Fatalf("frame %d: buffer grew to %d bytes, cap %d", i, s.Buffered(), maxBytes)
		}
	}
	if s.Buffered() < maxBytes/2 {
		t.Fatalf("expected at least half the cap retained, got %d", s.Buffered())
	}
	buf := s.PopBuffer()
	if len(buf)%frameBytes != 0 {
		t.Fatalf("expected whole frames, got %d bytes", len(buf))
	}
	if last := audio.Samples(buf[len(buf)-frameBytes:])[0]; last != 499 {
		t.Fatalf("expected newest frame kept, got frame %d", last)
	}
}

func TestSegmenterForcedFlushOnSilentFrame(t *testing.T) {
	s := NewSegmenter(Config{
		Enabled:      true,
		SampleRate:   sampleRate,
		MinSpeech:    100 * time.Millisecond,
		MaxSilence:   200 * time.Millisecond,
		MaxUtterance: time.Second,
	}, thresholdClassifier{}, newLogger())
	now := time.Unix(1700000000, 0)
	var flushes [][]byte
	step := func(index int, voiced bool) {
		if ev := s.Process(markedFrame(index, voiced), now); ev.Ended {
			flushes = append(flushes, s.PopBuffer())
		}
		now = now.Add(frameMS * time.Millisecond)
	}
	// 45 voiced frames and 5 quiet ones fill the one second cap on a quiet frame.
	for i := 0; i < 50; i++ {
		step(i, i < 45)
	}
	if len(flushes) != 1 || len(flushes[0]) != 45*frameBytes {
		t.Fatalf("expected a forced flush of the 45 voiced frames, got %d flushes", len(flushes))
	}
	if s.lastVoice.Before(s.startTime) {
		t.Fatalf("remainder timed from %v but last voice at %v", s.startTime, s.lastVoice)
	}
	for i := 50; i < 58; i++ {
		step(i, true)
	}
	for i := 58; i < 78; i++ {
		step(i, false)
	}
	if len(flushes) != 2 {
		t.Fatalf("expected the remaining speech to flush, got %d flushes", len(flushes))
	}
	rest := flushes[1]
	if len(rest) != 8*frameBytes {
		t.Fatalf("expected 8 voiced frames after the cut, got %d bytes", len(rest))
	}
	if first := audio.Samples(rest[:frameBytes])[0]; first != 50 {
		t.Fatalf("expected remainder to start at frame 50, got %d", first)
	}
}

func TestSegmenterDropsRejectedFrames(t *testing.T) {
	s := newSegmenter(true)
	ev := s.Process(make([]byte, 100), time.Now())
	if !ev.Dropped {
		t.Fatal("expected malformed frame to be dropped")
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle, got %v", s.State())
	}
}
