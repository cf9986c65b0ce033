// Package pipeline runs the dictation pipeline: capture, segmentation,
// chunking, transcription and text emission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictate/internal/audio"
	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/emit"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
	"github.com/loqalabs/loqa-dictate/internal/queue"
	"github.com/loqalabs/loqa-dictate/internal/stt"
	"github.com/loqalabs/loqa-dictate/internal/vad"
	"golang.org/x/time/rate"
)

const outputPoll = 200 * time.Millisecond

// Deps are the external capabilities the controller drives.
type Deps struct {
	Source     capture.Source
	Classifier vad.Classifier
	Engine     stt.Engine
	Emitter    emit.Emitter
	Observers  []Observer
}

// Controller owns the pipeline lifecycle. Start, Stop and Toggle are safe
// for concurrent use; calls arriving while a transition is in progress are
// ignored.
type Controller struct {
	cfg  config.Config
	deps Deps
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lifecycle sync.Mutex
	state     atomic.Int32
	since     atomic.Int64

	mu  sync.Mutex
	run *run

	observersMu sync.RWMutex
	observers   []Observer

	out      *queue.Queue[stt.Segment]
	seq      chunk.Sequence
	emitted  atomic.Int64
	metrics  *metrics
	warnDrop rate.Sometimes
}

// run holds the resources of a single Running period.
type run struct {
	session    string
	stream     capture.Stream
	segmenter  *vad.Segmenter
	assembler  *chunk.Assembler
	chunks     *queue.Queue[chunk.Chunk]
	dispatcher *stt.Dispatcher
	frameBytes int
	frameDur   time.Duration
	utterances bool
	windows    bool
}

// New creates a stopped controller and starts its output loop, which runs
// until Close.
func New(parent context.Context, cfg config.Config, deps Deps, log *slog.Logger) (*Controller, error) {
	if deps.Source == nil || deps.Engine == nil || deps.Emitter == nil {
		return nil, errors.New("pipeline: source, engine and emitter are required")
	}
	if deps.Classifier == nil {
		classifier, err := vad.NewEnergyClassifier(cfg.VAD.Aggressiveness)
		if err != nil {
			return nil, err
		}
		deps.Classifier = classifier
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		log:       log.With(slog.String("component", "pipeline")),
		ctx:       ctx,
		cancel:    cancel,
		observers: append([]Observer(nil), deps.Observers...),
		out:       queue.New[stt.Segment](cfg.Output.QueueDepth),
		warnDrop:  rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	c.since.Store(time.Now().UnixNano())
	c.metrics = newMetrics(c)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.outputLoop()
	}()
	return c, nil
}

// AddObserver registers an observer for subsequent events.
func (c *Controller) AddObserver(o Observer) {
	c.observersMu.Lock()
	defer c.observersMu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Toggle starts a stopped pipeline and stops a running one.
func (c *Controller) Toggle(ctx context.Context) error {
	switch c.State() {
	case StateStopped:
		return c.Start(ctx)
	case StateRunning:
		return c.Stop(ctx)
	default:
		c.log.Debug("toggle ignored during transition", slog.String("state", c.State().String()))
		return nil
	}
}

// Start opens the capture stream and starts transcription. Starting a
// running pipeline is a no-op. On failure the pipeline returns to Stopped
// with nothing left open.
func (c *Controller) Start(ctx context.Context) error {
	if !c.lifecycle.TryLock() {
		c.log.Debug("start ignored during transition", slog.String("state", c.State().String()))
		return nil
	}
	defer c.lifecycle.Unlock()

	if c.State() != StateStopped {
		return nil
	}
	session := uuid.NewString()
	c.transition(session, StateStarting, nil)

	r, err := c.startRun(ctx, session)
	if err != nil {
		c.log.Error("pipeline start failed", slog.String("error", err.Error()))
		c.transition(session, StateStopped, err)
		return err
	}

	c.mu.Lock()
	c.run = r
	c.mu.Unlock()
	c.transition(session, StateRunning, nil)
	return nil
}

func (c *Controller) startRun(ctx context.Context, session string) (*run, error) {
	if p, ok := c.deps.Engine.(stt.Preparer); ok {
		if err := p.Prepare(ctx); err != nil {
			return nil, fmt.Errorf("prepare engine: %w", err)
		}
	}

	r := c.newRun(session)
	handler := func(pcm []byte, at time.Time) {
		c.onAudio(r, pcm, at)
	}
	stream, err := c.deps.Source.Open(capture.StreamConfigFrom(c.cfg.Audio), handler)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	r.stream = stream
	r.dispatcher.Start(c.ctx)
	return r, nil
}

func (c *Controller) newRun(session string) *run {
	sampleRate := c.cfg.Audio.SampleRate
	segmenter := vad.NewSegmenter(vad.Config{
		Enabled:      c.cfg.VAD.Enable,
		SampleRate:   sampleRate,
		MinSpeech:    time.Duration(c.cfg.VAD.MinSpeechMS) * time.Millisecond,
		MaxSilence:   time.Duration(c.cfg.VAD.MaxSilenceMS) * time.Millisecond,
		TrailingPad:  time.Duration(c.cfg.VAD.TrailingPadMS) * time.Millisecond,
		MaxUtterance: time.Duration(c.cfg.VAD.MaxUtteranceMS) * time.Millisecond,
	}, c.deps.Classifier, c.log)

	chunks := queue.New[chunk.Chunk](c.cfg.Chunk.QueueDepth)
	dispatcher := stt.NewDispatcher(stt.DispatcherConfig{
		Session:   session,
		Language:  c.cfg.STT.LanguageHint(),
		Punctuate: c.cfg.Output.Punctuate,
		Timeout:   time.Duration(c.cfg.STT.TimeoutMS) * time.Millisecond,
		Poll:      time.Duration(c.cfg.STT.PollMS) * time.Millisecond,
		OnError: func(seq uint64, err error) {
			c.notifyFailure(Failure{Session: session, Stage: "transcribe", Seq: seq, Err: err, At: time.Now()})
		},
	}, c.deps.Engine, chunks, c.out, c.log)

	utterances, windows := c.strategy()
	frameBytes := audio.FrameBytes(sampleRate, c.cfg.Audio.BlockMS)
	return &run{
		session:    session,
		segmenter:  segmenter,
		assembler:  chunk.NewAssembler(sampleRate, c.cfg.Chunk.Seconds, c.cfg.Chunk.Overlap, &c.seq),
		chunks:     chunks,
		dispatcher: dispatcher,
		frameBytes: frameBytes,
		frameDur:   audio.Duration(sampleRate, frameBytes),
		utterances: utterances,
		windows:    windows,
	}
}

// strategy reports which chunk kinds are transcribed.
func (c *Controller) strategy() (utterances, windows bool) {
	vadOn := c.cfg.VAD.Enable
	switch c.cfg.Chunk.Strategy {
	case "both":
		return vadOn, true
	case "continuous":
		return false, true
	default:
		return vadOn, !vadOn
	}
}

// Stop closes the capture stream and waits for the dispatcher to finish
// its in-flight chunk. Stopping a stopped pipeline is a no-op. Segments
// already produced are still emitted by the output loop.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.lifecycle.TryLock() {
		c.log.Debug("stop ignored during transition", slog.String("state", c.State().String()))
		return nil
	}
	defer c.lifecycle.Unlock()

	if c.State() != StateRunning {
		return nil
	}
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()
	c.transition(r.session, StateStopping, nil)

	var errs []error
	if err := r.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close capture: %w", err))
	}
	stopped := make(chan struct{})
	go func() {
		r.dispatcher.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		// The dispatcher exits on its own once the in-flight call returns.
		errs = append(errs, fmt.Errorf("wait for dispatcher: %w", ctx.Err()))
	}
	if n := r.chunks.Len(); n > 0 {
		c.log.Debug("discarding queued chunks", slog.Int("chunks", n))
	}

	c.mu.Lock()
	c.run = nil
	c.mu.Unlock()
	c.transition(r.session, StateStopped, nil)
	return errors.Join(errs...)
}

// Close stops the pipeline and the output loop.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.Stop(ctx)
	c.cancel()
	c.wg.Wait()
	return err
}

func (c *Controller) Status() protocol.Status {
	engine, model := stt.Describe(c.deps.Engine)
	st := protocol.Status{
		State:           c.State().String(),
		Since:           time.Unix(0, c.since.Load()).UTC(),
		Engine:          engine,
		Model:           model,
		InsertMode:      c.cfg.Output.InsertMode,
		Strategy:        c.cfg.Chunk.Strategy,
		VAD:             c.cfg.VAD.Enable,
		PendingSegments: c.out.Len(),
		SegmentsEmitted: c.emitted.Load(),
	}
	c.mu.Lock()
	if c.run != nil {
		st.SessionID = c.run.session
		st.QueuedChunks = c.run.chunks.Len()
	}
	c.mu.Unlock()
	return st
}

func (c *Controller) transition(session string, to State, err error) {
	from := State(c.state.Swap(int32(to)))
	now := time.Now()
	c.since.Store(now.UnixNano())
	attrs := []any{slog.String("from", from.String()), slog.String("to", to.String()), slog.String("session", session)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.log.Info("pipeline state changed", attrs...)

	t := Transition{Session: session, From: from, To: to, At: now, Err: err}
	c.observersMu.RLock()
	defer c.observersMu.RUnlock()
	for _, o := range c.observers {
		o.OnTransition(t)
	}
}

func (c *Controller) notifyFailure(f Failure) {
	c.observersMu.RLock()
	defer c.observersMu.RUnlock()
	for _, o := range c.observers {
		o.OnFailure(f)
	}
}
