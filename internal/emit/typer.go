package emit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// TypeEmitter types text as individual keystrokes. Text containing runes
// without a key mapping is handed to the fallback emitter as a whole.
type TypeEmitter struct {
	kb       Keyboard
	fallback Emitter
	log      *slog.Logger
}

func NewTypeEmitter(kb Keyboard, fallback Emitter, log *slog.Logger) *TypeEmitter {
	return &TypeEmitter{kb: kb, fallback: fallback, log: log.With(slog.String("component", "emitter"))}
}

func (e *TypeEmitter) Emit(ctx context.Context, text string) error {
	strokes, err := plan(text)
	if errors.Is(err, ErrUnmappable) {
		if e.fallback == nil {
			return err
		}
		e.log.Debug("falling back to paste", slog.String("reason", err.Error()))
		return e.fallback.Emit(ctx, text)
	}
	for i, s := range strokes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.kb.Tap(s.key, s.shift); err != nil {
			return fmt.Errorf("type rune %d: %w", i, err)
		}
	}
	return nil
}

func plan(text string) ([]keystroke, error) {
	strokes := make([]keystroke, 0, len(text))
	for _, r := range text {
		s, err := keyFor(r)
		if err != nil {
			return nil, err
		}
		strokes = append(strokes, s)
	}
	return strokes, nil
}
