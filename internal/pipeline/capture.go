package pipeline

import (
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/chunk"
)

// onAudio is the capture callback. It only segments and enqueues; it never
// transcribes or emits.
func (c *Controller) onAudio(r *run, pcm []byte, at time.Time) {
	sampleRate := c.cfg.Audio.SampleRate
	audio.Frames(pcm, r.frameBytes, func(frame []byte, i int) {
		ts := at.Add(time.Duration(i) * r.frameDur)

		ev := r.segmenter.Process(frame, ts)
		if ev.Dropped {
			c.metrics.framesRejected.Add(c.ctx, 1)
		}
		if ev.Ended {
			flush := r.segmenter.PopBuffer()
			if r.utterances && len(flush) > 0 {
				c.enqueue(r, chunk.New(c.seq.Next(), chunk.KindUtteranceFlush, flush, sampleRate, ts))
			}
		}

		r.assembler.Append(frame)
		if r.windows {
			if w, ok := r.assembler.MaybeCut(ts); ok {
				c.enqueue(r, w)
			}
		} else {
			r.assembler.Skip()
		}
	})
}

func (c *Controller) enqueue(r *run, ch chunk.Chunk) {
	c.metrics.chunksEnqueued.Add(c.ctx, 1, kindAttr(ch.Kind))
	if n := r.chunks.Push(ch); n > 0 {
		c.metrics.chunksDropped.Add(c.ctx, int64(n))
		c.warnDrop.Do(func() {
			c.log.Warn("chunk queue full, dropped oldest chunk",
				slog.Int("dropped", n),
				slog.Int("depth", r.chunks.Cap()),
			)
		})
	}
}
