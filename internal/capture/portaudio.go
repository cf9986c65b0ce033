package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-dictate/internal/audio"
)

// PortAudioSource captures from the default input device.
type PortAudioSource struct {
	log *slog.Logger
}

func NewPortAudioSource(log *slog.Logger) *PortAudioSource {
	return &PortAudioSource{log: log.With(slog.String("component", "capture"))}
}

type portAudioStream struct {
	stream *portaudio.Stream
	once   sync.Once
	err    error
}

func (s *PortAudioSource) Open(cfg StreamConfig, handler FrameHandler) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	device, err := portaudio.DefaultInputDevice()
	if err != nil || device == nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	callback := func(in []int16) {
		handler(audio.Int16ToBytes(in), time.Now())
	}
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.BlockSamples, callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	s.log.Info("capture stream opened",
		slog.String("device", device.Name),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("block_samples", cfg.BlockSamples),
	)
	return &portAudioStream{stream: stream}, nil
}

func (p *portAudioStream) Close() error {
	p.once.Do(func() {
		if err := p.stream.Stop(); err != nil {
			p.err = fmt.Errorf("stop input stream: %w", err)
		}
		if err := p.stream.Close(); err != nil && p.err == nil {
			p.err = fmt.Errorf("close input stream: %w", err)
		}
		_ = portaudio.Terminate()
	})
	return p.err
}
