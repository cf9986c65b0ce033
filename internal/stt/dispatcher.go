package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Segment is recognised text ready for emission.
type Segment struct {
	Session    string
	Text       string
	Seq        uint64
	Kind       chunk.Kind
	Language   string
	CapturedAt time.Time
	Latency    time.Duration
}

type DispatcherConfig struct {
	// Session tags every segment with the recording run that produced it.
	Session   string
	Language  string
	Punctuate bool
	Timeout   time.Duration
	Poll      time.Duration
	// OnError receives recoverable failures (engine errors and recovered panics).
	OnError func(seq uint64, err error)
}

// Dispatcher is the single transcription worker. It drains the chunk queue
// in FIFO order and pushes non-empty segments onto the output queue.
type Dispatcher struct {
	cfg    DispatcherConfig
	engine Engine
	chunks *queue.Queue[chunk.Chunk]
	out    *queue.Queue[Segment]
	log    *slog.Logger
	tracer trace.Tracer

	transcriptions metric.Int64Counter
	duration       metric.Float64Histogram
	dropped        metric.Int64Counter

	stop    atomic.Bool
	started atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func NewDispatcher(cfg DispatcherConfig, engine Engine, chunks *queue.Queue[chunk.Chunk], out *queue.Queue[Segment], log *slog.Logger) *Dispatcher {
	if cfg.Poll <= 0 {
		cfg.Poll = 100 * time.Millisecond
	}
	meter := otel.Meter("github.com/loqalabs/loqa-dictate/internal/stt")
	transcriptions, _ := meter.Int64Counter("dictate_transcriptions_total",
		metric.WithDescription("Transcription calls by result"))
	duration, _ := meter.Float64Histogram("dictate_transcription_seconds",
		metric.WithDescription("Transcription engine latency"), metric.WithUnit("s"))
	dropped, _ := meter.Int64Counter("dictate_segments_dropped_total",
		metric.WithDescription("Segments discarded because the output queue was full"))
	return &Dispatcher{
		cfg:            cfg,
		engine:         engine,
		chunks:         chunks,
		out:            out,
		log:            log.With(slog.String("component", "dispatcher")),
		tracer:         otel.Tracer("github.com/loqalabs/loqa-dictate/internal/stt"),
		transcriptions: transcriptions,
		duration:       duration,
		dropped:        dropped,
		done:           make(chan struct{}),
	}
}

// Start launches the worker. A dispatcher runs at most once.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.run(ctx)
}

// Stop sets the stop flag and waits for the in-flight chunk, if any, to finish.
func (d *Dispatcher) Stop() {
	d.stop.Store(true)
	if d.started.Load() {
		<-d.done
	}
}

func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })
	d.log.Debug("dispatcher started")
	for !d.stop.Load() {
		c, ok := d.chunks.Pop(d.cfg.Poll)
		if !ok {
			continue
		}
		d.process(ctx, c)
	}
	d.log.Debug("dispatcher stopped", slog.Int("pending_chunks", d.chunks.Len()))
}

func (d *Dispatcher) process(ctx context.Context, c chunk.Chunk) {
	ctx, span := d.tracer.Start(ctx, "stt.transcribe", trace.WithAttributes(
		attribute.Int64("chunk.seq", int64(c.Seq)),
		attribute.String("chunk.kind", c.Kind.String()),
		attribute.Int("chunk.samples", len(c.Samples)),
	))
	defer span.End()

	started := time.Now()
	text, err := d.transcribe(ctx, c)
	elapsed := time.Since(started)
	d.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("kind", c.Kind.String())))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		d.log.Warn("transcription failed",
			slog.Uint64("seq", c.Seq),
			slog.String("kind", c.Kind.String()),
			slog.String("error", err.Error()),
		)
		if d.cfg.OnError != nil {
			d.cfg.OnError(c.Seq, err)
		}
		return
	}

	text = Normalize(text, d.cfg.Punctuate)
	if text == "" {
		d.transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "empty")))
		return
	}
	d.transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))

	seg := Segment{
		Session:    d.cfg.Session,
		Text:       text,
		Seq:        c.Seq,
		Kind:       c.Kind,
		Language:   d.cfg.Language,
		CapturedAt: c.CapturedAt,
		Latency:    elapsed,
	}
	if n := d.out.Push(seg); n > 0 {
		d.dropped.Add(ctx, int64(n))
		d.log.Warn("output queue full, dropped oldest segment", slog.Int("dropped", n))
	}
}

func (d *Dispatcher) transcribe(ctx context.Context, c chunk.Chunk) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	return d.engine.Transcribe(ctx, c.Samples, d.cfg.Language)
}
