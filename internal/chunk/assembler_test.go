package chunk

import (
	"bytes"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
)

func rampFrames(n, frameBytes int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		samples := make([]int16, frameBytes/2)
		for j := range samples {
			samples[j] = int16(i*len(samples) + j)
		}
		frames[i] = audio.Int16ToBytes(samples)
	}
	return frames
}

func TestAssemblerSingleWindow(t *testing.T) {
	a := NewAssembler(16000, 0.8, 0.2, nil)
	if a.WindowBytes() != 25600 || a.OverlapBytes() != 6400 {
		t.Fatalf("unexpected sizes window=%d overlap=%d", a.WindowBytes(), a.OverlapBytes())
	}
	frames := rampFrames(40, 640)
	var input []byte
	var cuts []Chunk
	for _, f := range frames {
		input = append(input, f...)
		a.Append(f)
		if c, ok := a.MaybeCut(time.Now()); ok {
			cuts = append(cuts, c)
		}
	}
	if len(input) != 25600 {
		t.Fatalf("test setup fed %d bytes", len(input))
	}
	if len(cuts) != 1 {
		t.Fatalf("expected exactly one cut, got %d", len(cuts))
	}
	c := cuts[0]
	if c.Kind != KindContinuousWindow || c.Seq != 1 {
		t.Fatalf("unexpected chunk kind=%v seq=%d", c.Kind, c.Seq)
	}
	if !bytes.Equal(c.PCM, input) {
		t.Fatal("window does not match captured audio")
	}
	if len(c.Samples) != 12800 {
		t.Fatalf("expected 12800 normalised samples, got %d", len(c.Samples))
	}
	if a.Buffered() != 6400 {
		t.Fatalf("expected 6400-byte tail, got %d", a.Buffered())
	}
	if c.Duration() != 800*time.Millisecond {
		t.Fatalf("expected 800ms chunk, got %v", c.Duration())
	}
}

func TestAssemblerOverlapRetainedVerbatim(t *testing.T) {
	a := NewAssembler(16000, 0.8, 0.2, nil)
	frames := rampFrames(70, 640)
	var input []byte
	var cuts []Chunk
	for _, f := range frames {
		input = append(input, f...)
		a.Append(f)
		if c, ok := a.MaybeCut(time.Now()); ok {
			cuts = append(cuts, c)
		}
	}
	if len(cuts) != 2 {
		t.Fatalf("expected two cuts, got %d", len(cuts))
	}
	// The second window starts with the last 6400 bytes of the first.
	if !bytes.Equal(cuts[1].PCM[:6400], cuts[0].PCM[25600-6400:]) {
		t.Fatal("second window does not begin with the retained overlap")
	}
	if !bytes.Equal(cuts[1].PCM, input[25600-6400:25600-6400+25600]) {
		t.Fatal("second window does not match captured audio")
	}
	if cuts[1].Seq != cuts[0].Seq+1 {
		t.Fatalf("expected consecutive sequence numbers, got %d and %d", cuts[0].Seq, cuts[1].Seq)
	}
}

func TestAssemblerCutCadence(t *testing.T) {
	tests := []struct {
		name    string
		window  float64
		overlap float64
		frame   int
	}{
		{"default", 0.8, 0.2, 640},
		{"no overlap", 0.5, 0, 320},
		{"long window", 2.0, 0.5, 960},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(16000, tt.window, tt.overlap, nil)
			stride := a.WindowBytes() - a.OverlapBytes()
			appended := 0
			var cutAt []int
			for i := 0; i < 400; i++ {
				a.Append(make([]byte, tt.frame))
				appended += tt.frame
				if _, ok := a.MaybeCut(time.Now()); ok {
					cutAt = append(cutAt, appended)
				}
			}
			if len(cutAt) < 2 {
				t.Fatalf("expected several cuts, got %d", len(cutAt))
			}
			// The window is only complete at the end of the frame that crosses it.
			first := (a.WindowBytes() + tt.frame - 1) / tt.frame * tt.frame
			if cutAt[0] != first {
				t.Fatalf("first cut after %d bytes, expected %d", cutAt[0], first)
			}
			for i := 1; i < len(cutAt); i++ {
				if cutAt[i]-cutAt[i-1] != stride {
					t.Fatalf("cut %d after %d new bytes, expected %d", i, cutAt[i]-cutAt[i-1], stride)
				}
			}
		})
	}
}

func TestSharedSequence(t *testing.T) {
	seq := &Sequence{}
	a := NewAssembler(16000, 0.1, 0, seq)
	flush := New(seq.Next(), KindUtteranceFlush, make([]byte, 64), 16000, time.Now())
	a.Append(make([]byte, 3200))
	window, ok := a.MaybeCut(time.Now())
	if !ok {
		t.Fatal("expected cut")
	}
	if flush.Seq != 1 || window.Seq != 2 {
		t.Fatalf("expected shared numbering 1,2; got %d,%d", flush.Seq, window.Seq)
	}
	if flush.Kind.String() != "utterance_flush" {
		t.Fatalf("unexpected kind name %q", flush.Kind.String())
	}
}

func TestAssemblerSkipKeepsNumbering(t *testing.T) {
	seq := &Sequence{}
	a := NewAssembler(16000, 0.1, 0.05, seq)
	a.Append(make([]byte, 3200))
	if !a.Skip() {
		t.Fatal("expected a full window to skip")
	}
	if a.Buffered() != 1600 {
		t.Fatalf("expected overlap retained after skip, got %d", a.Buffered())
	}
	if seq.Last() != 0 {
		t.Fatalf("skip must not consume sequence numbers, last=%d", seq.Last())
	}
	if a.Skip() {
		t.Fatal("skip on a partial window should do nothing")
	}
}
