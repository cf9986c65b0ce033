// Package chunk cuts captured audio into the units handed to the
// transcription engine.
package chunk

import (
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

type Kind int

const (
	KindContinuousWindow Kind = iota
	KindUtteranceFlush
)

func (k Kind) String() string {
	switch k {
	case KindContinuousWindow:
		return "continuous_window"
	case KindUtteranceFlush:
		return "utterance_flush"
	default:
		return "unknown"
	}
}

// Chunk is a span of PCM16 audio queued for transcription.
type Chunk struct {
	Seq        uint64
	Kind       Kind
	PCM        []byte
	Samples    []float32
	SampleRate int
	CapturedAt time.Time
}

func (c Chunk) Duration() time.Duration {
	return audio.Duration(c.SampleRate, len(c.PCM))
}

// Sequence hands out monotonically increasing chunk numbers starting at 1.
type Sequence struct {
	n atomic.Uint64
}

func (s *Sequence) Next() uint64 { return s.n.Add(1) }

func (s *Sequence) Last() uint64 { return s.n.Load() }

// New builds a chunk from pcm, normalising it to float32 samples.
func New(seq uint64, kind Kind, pcm []byte, sampleRate int, at time.Time) Chunk {
	return Chunk{
		Seq:        seq,
		Kind:       kind,
		PCM:        pcm,
		Samples:    audio.ToFloat32(pcm),
		SampleRate: sampleRate,
		CapturedAt: at,
	}
}
