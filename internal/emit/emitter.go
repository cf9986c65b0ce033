// Package emit delivers recognised text into the focused application.
package emit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

var ErrUnmappable = errors.New("emit: rune has no key mapping")

type Emitter interface {
	Emit(ctx context.Context, text string) error
}

// Keyboard synthesises key presses.
type Keyboard interface {
	Tap(key int, shift bool) error
	Paste() error
}

type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// New builds the emitter selected by output.insert_mode using the system
// keyboard and clipboard.
func New(cfg config.OutputConfig, log *slog.Logger) (Emitter, error) {
	delay := time.Duration(cfg.PasteDelayMS) * time.Millisecond
	switch cfg.InsertMode {
	case "none":
		return NewLogEmitter(log), nil
	case "clipboard":
		kb, err := NewSystemKeyboard()
		if err != nil {
			return nil, err
		}
		return NewClipboardEmitter(SystemClipboard{}, kb, delay), nil
	case "", "type":
		kb, err := NewSystemKeyboard()
		if err != nil {
			return nil, err
		}
		return NewTypeEmitter(kb, NewClipboardEmitter(SystemClipboard{}, kb, delay), log), nil
	default:
		return nil, fmt.Errorf("unsupported insert mode %q", cfg.InsertMode)
	}
}

// LogEmitter only logs the text; used headless.
type LogEmitter struct {
	log *slog.Logger
}

func NewLogEmitter(log *slog.Logger) *LogEmitter {
	return &LogEmitter{log: log.With(slog.String("component", "emitter"))}
}

func (e *LogEmitter) Emit(_ context.Context, text string) error {
	e.log.Info("transcript", slog.String("text", text))
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
