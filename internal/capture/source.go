// Package capture provides the audio input streams feeding the pipeline.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

var ErrDeviceUnavailable = errors.New("capture: input device unavailable")

// StreamConfig describes the PCM stream requested from a source.
type StreamConfig struct {
	SampleRate int
	Channels   int
	// BlockSamples is the number of samples delivered per callback.
	BlockSamples int
}

// FrameHandler receives little-endian PCM16 blocks. It runs on the capture
// thread and must not block.
type FrameHandler func(pcm []byte, at time.Time)

type Stream interface {
	Close() error
}

// Source opens capture streams. A source may be opened again after the
// previous stream is closed.
type Source interface {
	Open(cfg StreamConfig, handler FrameHandler) (Stream, error)
}

func StreamConfigFrom(cfg config.AudioConfig) StreamConfig {
	return StreamConfig{
		SampleRate:   cfg.SampleRate,
		Channels:     cfg.Channels,
		BlockSamples: cfg.FrameSamples(),
	}
}

// New returns the source selected by audio.source.
func New(cfg config.AudioConfig, log *slog.Logger) (Source, error) {
	switch cfg.Source {
	case "", "portaudio":
		return NewPortAudioSource(log), nil
	case "wav":
		return NewWAVSource(cfg.WAVPath, cfg.Realtime, log), nil
	default:
		return nil, fmt.Errorf("unsupported audio source %q", cfg.Source)
	}
}
