package emit

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
)

type SystemClipboard struct{}

func (SystemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (SystemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// ClipboardEmitter pastes text through the clipboard and restores the
// previous clipboard contents afterwards, also when the paste fails.
type ClipboardEmitter struct {
	clip  Clipboard
	kb    Keyboard
	delay time.Duration
}

func NewClipboardEmitter(clip Clipboard, kb Keyboard, delay time.Duration) *ClipboardEmitter {
	return &ClipboardEmitter{clip: clip, kb: kb, delay: delay}
}

func (e *ClipboardEmitter) Emit(ctx context.Context, text string) (err error) {
	// xclip and xsel fail on an empty selection; that restores to empty.
	prev, readErr := e.clip.ReadAll()
	if readErr != nil {
		prev = ""
	}
	if err := e.clip.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	defer func() {
		// The target reads the clipboard asynchronously after the paste keystroke.
		_ = sleep(context.WithoutCancel(ctx), e.delay)
		if rerr := e.clip.WriteAll(prev); rerr != nil && err == nil {
			err = fmt.Errorf("restore clipboard: %w", rerr)
		}
	}()
	if err := sleep(ctx, e.delay); err != nil {
		return err
	}
	if err := e.kb.Paste(); err != nil {
		return fmt.Errorf("paste: %w", err)
	}
	return nil
}
