package capture

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

// WAVSource replays a 16-bit mono WAV file as if it were captured live.
// With realtime disabled blocks are delivered as fast as the handler accepts them.
type WAVSource struct {
	path     string
	realtime bool
	log      *slog.Logger
}

func NewWAVSource(path string, realtime bool, log *slog.Logger) *WAVSource {
	return &WAVSource{path: path, realtime: realtime, log: log.With(slog.String("component", "capture"))}
}

type wavStream struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *WAVSource) Open(cfg StreamConfig, handler FrameHandler) (Stream, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	pcm, rate, err := audio.ReadWAV(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if rate != cfg.SampleRate {
		return nil, fmt.Errorf("wav sample rate %d does not match stream rate %d", rate, cfg.SampleRate)
	}
	if cfg.BlockSamples <= 0 {
		return nil, fmt.Errorf("invalid block size %d", cfg.BlockSamples)
	}

	st := &wavStream{stop: make(chan struct{}), done: make(chan struct{})}
	blockBytes := cfg.BlockSamples * audio.BytesPerSample
	interval := audio.Duration(cfg.SampleRate, blockBytes)
	s.log.Info("replaying wav file", slog.String("path", s.path), slog.Duration("length", audio.Duration(rate, len(pcm))))

	go func() {
		defer close(st.done)
		var ticker *time.Ticker
		if s.realtime {
			ticker = time.NewTicker(interval)
			defer ticker.Stop()
		}
		at := time.Now()
		for off := 0; off < len(pcm); off += blockBytes {
			if ticker != nil {
				select {
				case <-st.stop:
					return
				case at = <-ticker.C:
				}
			} else {
				select {
				case <-st.stop:
					return
				default:
				}
				at = at.Add(interval)
			}
			end := off + blockBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			handler(pcm[off:end], at)
		}
		s.log.Debug("wav replay finished", slog.String("path", s.path))
	}()
	return st, nil
}

func (w *wavStream) Close() error {
	w.once.Do(func() { close(w.stop) })
	<-w.done
	return nil
}
