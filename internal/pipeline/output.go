package pipeline

import (
	"log/slog"
	"time"
)

// outputLoop delivers segments to the emitter in queue order for the
// lifetime of the controller.
func (c *Controller) outputLoop() {
	for c.ctx.Err() == nil {
		seg, ok := c.out.Pop(outputPoll)
		if !ok {
			continue
		}
		text := seg.Text + c.cfg.Output.Delimiter
		err := c.deps.Emitter.Emit(c.ctx, text)
		now := time.Now()
		if err != nil {
			c.metrics.emitErrors.Add(c.ctx, 1)
			c.log.Warn("text emission failed",
				slog.Uint64("seq", seg.Seq),
				slog.String("error", err.Error()),
			)
			c.notifyFailure(Failure{Session: seg.Session, Stage: "emit", Seq: seg.Seq, Err: err, At: now})
		} else {
			c.emitted.Add(1)
			c.metrics.segmentsEmitted.Add(c.ctx, 1, kindAttr(seg.Kind))
			if !seg.CapturedAt.IsZero() {
				c.metrics.emitLatency.Record(c.ctx, now.Sub(seg.CapturedAt).Seconds())
			}
			c.log.Debug("segment emitted", slog.Uint64("seq", seg.Seq), slog.Int("chars", len(text)))
		}

		e := Emission{Segment: seg, Text: text, At: now, Err: err}
		c.observersMu.RLock()
		for _, o := range c.observers {
			o.OnEmission(e)
		}
		c.observersMu.RUnlock()
	}
}
