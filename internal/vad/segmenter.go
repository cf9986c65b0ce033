package vad

import (
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"golang.org/x/time/rate"
)

type State int

const (
	StateIdle State = iota
	StateInSpeech
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInSpeech:
		return "in_speech"
	default:
		return "unknown"
	}
}

// Event reports what a single frame did to the segmenter.
type Event struct {
	Started bool
	// Ended means a complete utterance is ready in PopBuffer.
	Ended bool
	// Dropped means the classifier rejected the frame.
	Dropped bool
}

type Config struct {
	Enabled      bool
	SampleRate   int
	MinSpeech    time.Duration
	MaxSilence   time.Duration
	TrailingPad  time.Duration
	MaxUtterance time.Duration
}

// Segmenter is the voice-activity state machine. It is not safe for
// concurrent use; the capture callback owns it.
type Segmenter struct {
	cfg        Config
	classifier Classifier
	log        *slog.Logger
	warn       rate.Sometimes

	state     State
	startTime time.Time
	lastVoice time.Time

	buf       []byte
	voicedEnd int
	pending   []byte
	maxBytes  int
	padBytes  int
}

func NewSegmenter(cfg Config, classifier Classifier, log *slog.Logger) *Segmenter {
	if log == nil {
		log = slog.Default()
	}
	return &Segmenter{
		cfg:        cfg,
		classifier: classifier,
		log:        log.With(slog.String("component", "segmenter")),
		warn:       rate.Sometimes{First: 1, Interval: 5 * time.Second},
		maxBytes:   audio.BytesFor(cfg.SampleRate, cfg.MaxUtterance.Seconds()),
		padBytes:   audio.BytesFor(cfg.SampleRate, cfg.TrailingPad.Seconds()),
	}
}

func (s *Segmenter) State() State { return s.state }

// Process classifies one frame captured at now.
func (s *Segmenter) Process(frame []byte, now time.Time) Event {
	if !s.cfg.Enabled || s.classifier == nil {
		s.appendBounded(frame)
		return Event{}
	}

	voiced, err := s.classifier.IsSpeech(frame, s.cfg.SampleRate)
	if err != nil {
		s.warn.Do(func() {
			s.log.Warn("dropping frame rejected by classifier", slog.Int("bytes", len(frame)), slog.String("error", err.Error()))
		})
		return Event{Dropped: true}
	}

	var ev Event
	if voiced {
		s.lastVoice = now
		if s.state == StateIdle {
			s.state = StateInSpeech
			s.startTime = now
			s.buf = s.buf[:0]
			s.voicedEnd = 0
			ev.Started = true
		}
	}
	if s.state != StateInSpeech {
		return ev
	}

	s.buf = append(s.buf, frame...)
	if voiced {
		s.voicedEnd = len(s.buf)
	}

	if now.Sub(s.lastVoice) > s.cfg.MaxSilence {
		s.state = StateIdle
		if s.lastVoice.Sub(s.startTime) >= s.cfg.MinSpeech {
			s.pending = s.utterance()
			ev.Ended = true
		}
		s.buf = s.buf[:0]
		s.voicedEnd = 0
		return ev
	}

	if s.maxBytes > 0 && len(s.buf) >= s.maxBytes {
		s.pending = s.utterance()
		ev.Ended = true
		// The remainder is timed from the cut.
		s.startTime = now
		s.lastVoice = now
		s.buf = s.buf[:0]
		s.voicedEnd = 0
	}
	return ev
}

// PopBuffer drains the accumulated audio: the completed utterance after an
// Ended event, otherwise whatever has been buffered so far.
func (s *Segmenter) PopBuffer() []byte {
	if s.pending != nil {
		out := s.pending
		s.pending = nil
		return out
	}
	out := append([]byte(nil), s.buf...)
	s.buf = s.buf[:0]
	s.voicedEnd = 0
	return out
}

// Buffered is the number of bytes currently accumulated.
func (s *Segmenter) Buffered() int { return len(s.buf) }

func (s *Segmenter) utterance() []byte {
	end := s.voicedEnd + s.padBytes
	if end > len(s.buf) {
		end = len(s.buf)
	}
	return append([]byte(nil), s.buf[:end]...)
}

// appendBounded keeps the newest audio within maxBytes. When the cap is hit it
// drops the older half in one move, so the copy happens once per half window
// rather than on every frame.
func (s *Segmenter) appendBounded(frame []byte) {
	if s.maxBytes > 0 && len(s.buf)+len(frame) > s.maxBytes {
		keep := (s.maxBytes / 2) &^ 1
		if keep > len(s.buf) {
			keep = len(s.buf)
		}
		s.buf = append(s.buf[:0], s.buf[len(s.buf)-keep:]...)
	}
	s.buf = append(s.buf, frame...)
}
