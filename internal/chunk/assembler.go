package chunk

import (
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

// Assembler keeps the continuous sliding window over captured audio. Every
// frame is appended regardless of speech state; once a full window is
// available it is cut and only the overlap tail is retained.
//
// Assembler is owned by the capture callback and is not safe for concurrent use.
type Assembler struct {
	sampleRate   int
	windowBytes  int
	overlapBytes int
	seq          *Sequence
	buf          []byte
}

func NewAssembler(sampleRate int, windowSeconds, overlapSeconds float64, seq *Sequence) *Assembler {
	if seq == nil {
		seq = &Sequence{}
	}
	window := audio.BytesFor(sampleRate, windowSeconds)
	return &Assembler{
		sampleRate:   sampleRate,
		windowBytes:  window,
		overlapBytes: audio.BytesFor(sampleRate, overlapSeconds),
		seq:          seq,
		buf:          make([]byte, 0, window+audio.FrameBytes(sampleRate, 30)),
	}
}

func (a *Assembler) Append(frame []byte) {
	a.buf = append(a.buf, frame...)
}

// MaybeCut returns a ContinuousWindow chunk when the buffer holds a full window.
func (a *Assembler) MaybeCut(at time.Time) (Chunk, bool) {
	window, ok := a.cut()
	if !ok {
		return Chunk{}, false
	}
	return New(a.seq.Next(), KindContinuousWindow, window, a.sampleRate, at), true
}

// Skip advances past a full window without producing a chunk, keeping the
// buffer bounded when continuous windows are not transcribed.
func (a *Assembler) Skip() bool {
	_, ok := a.cut()
	return ok
}

func (a *Assembler) cut() ([]byte, bool) {
	if a.windowBytes <= 0 || len(a.buf) < a.windowBytes {
		return nil, false
	}
	window := append([]byte(nil), a.buf[:a.windowBytes]...)
	tail := a.overlapBytes
	if tail > len(a.buf) {
		tail = len(a.buf)
	}
	a.buf = append(a.buf[:0], a.buf[len(a.buf)-tail:]...)
	return window, true
}

func (a *Assembler) Buffered() int { return len(a.buf) }

func (a *Assembler) WindowBytes() int { return a.windowBytes }

func (a *Assembler) OverlapBytes() int { return a.overlapBytes }
