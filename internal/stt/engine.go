package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

var ErrEngineNotReady = errors.New("stt: engine not ready")

// Engine abstracts STT backends. Samples are mono float32 in [-1, 1) at the
// pipeline sample rate; an empty language lets the engine detect it.
type Engine interface {
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
}

// Preparer is implemented by engines that need a readiness check or a model
// load before the first transcription.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Describer reports the engine and model names for logs and status.
type Describer interface {
	Describe() (engine string, model string)
}

func NewEngine(cfg config.STTConfig, sampleRate int, log *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockEngine(), nil
	case "exec":
		return NewExecEngine(cfg, sampleRate, log)
	case "openai":
		return NewOpenAIEngine(cfg, sampleRate), nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

// Describe falls back to the Go type name for engines without a Describer.
func Describe(e Engine) (string, string) {
	if d, ok := e.(Describer); ok {
		return d.Describe()
	}
	return fmt.Sprintf("%T", e), ""
}

var sentencePunct = strings.NewReplacer(".", "", ",", "", "!", "", "?", "", ";", "", ":", "")

// Normalize trims recognised text and, when punctuate is false, strips
// sentence punctuation and collapses the whitespace left behind.
func Normalize(text string, punctuate bool) string {
	text = strings.TrimSpace(text)
	if punctuate || text == "" {
		return text
	}
	return strings.Join(strings.Fields(sentencePunct.Replace(text)), " ")
}
