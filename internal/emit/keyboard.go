package emit

import (
	"fmt"
	"sync"
	"unicode"

	"github.com/micmonay/keybd_event"
)

// SystemKeyboard drives the OS input layer through keybd_event.
type SystemKeyboard struct {
	mu sync.Mutex
	kb keybd_event.KeyBonding
}

func NewSystemKeyboard() (*SystemKeyboard, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("init keyboard: %w", err)
	}
	return &SystemKeyboard{kb: kb}, nil
}

func (k *SystemKeyboard) Tap(key int, shift bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kb.Clear()
	k.kb.HasCTRL(false)
	k.kb.HasSHIFT(shift)
	k.kb.SetKeys(key)
	return k.kb.Launching()
}

func (k *SystemKeyboard) Paste() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kb.Clear()
	k.kb.HasSHIFT(false)
	k.kb.HasCTRL(true)
	k.kb.SetKeys(keybd_event.VK_V)
	err := k.kb.Launching()
	k.kb.HasCTRL(false)
	return err
}

type keystroke struct {
	key   int
	shift bool
}

var letterKeys = []int{
	keybd_event.VK_A, keybd_event.VK_B, keybd_event.VK_C, keybd_event.VK_D, keybd_event.VK_E,
	keybd_event.VK_F, keybd_event.VK_G, keybd_event.VK_H, keybd_event.VK_I, keybd_event.VK_J,
	keybd_event.VK_K, keybd_event.VK_L, keybd_event.VK_M, keybd_event.VK_N, keybd_event.VK_O,
	keybd_event.VK_P, keybd_event.VK_Q, keybd_event.VK_R, keybd_event.VK_S, keybd_event.VK_T,
	keybd_event.VK_U, keybd_event.VK_V, keybd_event.VK_W, keybd_event.VK_X, keybd_event.VK_Y,
	keybd_event.VK_Z,
}

var digitKeys = []int{
	keybd_event.VK_0, keybd_event.VK_1, keybd_event.VK_2, keybd_event.VK_3, keybd_event.VK_4,
	keybd_event.VK_5, keybd_event.VK_6, keybd_event.VK_7, keybd_event.VK_8, keybd_event.VK_9,
}

// keyFor maps layout-independent runes to keystrokes.
func keyFor(r rune) (keystroke, error) {
	switch {
	case r >= 'a' && r <= 'z':
		return keystroke{key: letterKeys[r-'a']}, nil
	case r >= 'A' && r <= 'Z':
		return keystroke{key: letterKeys[unicode.ToLower(r)-'a'], shift: true}, nil
	case r >= '0' && r <= '9':
		return keystroke{key: digitKeys[r-'0']}, nil
	case r == ' ':
		return keystroke{key: keybd_event.VK_SPACE}, nil
	default:
		return keystroke{}, fmt.Errorf("%w: %q", ErrUnmappable, r)
	}
}
