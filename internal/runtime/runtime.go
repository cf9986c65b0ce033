package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/capture"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/emit"
	"github.com/loqalabs/loqa-dictate/internal/eventstore"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/notify"
	"github.com/loqalabs/loqa-dictate/internal/pipeline"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// Option replaces a default capability, mainly for tests and embedding.
type Option func(*Runtime)

func WithSource(src capture.Source) Option { return func(r *Runtime) { r.source = src } }

func WithEngine(engine stt.Engine) Option { return func(r *Runtime) { r.engine = engine } }

func WithEmitter(e emit.Emitter) Option { return func(r *Runtime) { r.emitter = e } }

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	source  capture.Source
	engine  stt.Engine
	emitter emit.Emitter

	httpServer    *http.Server
	metricsServer *http.Server
	addr          atomic.Value
	tracerClose   func(context.Context) error
	nats          *natsserver.EmbeddedServer
	bus           *bus.Client
	responder     *bus.ControlResponder
	store         *eventstore.Store
	ctrl          *pipeline.Controller

	ready   atomic.Bool
	readyCh chan struct{}
	wg      sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:     cfg,
		logger:  logger,
		readyCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ready is closed once the pipeline and control surfaces are up.
func (r *Runtime) Ready() <-chan struct{} { return r.readyCh }

// Addr is the bound HTTP address, available after Ready.
func (r *Runtime) Addr() string {
	if v, ok := r.addr.Load().(string); ok {
		return v
	}
	return ""
}

func (r *Runtime) Controller() *pipeline.Controller { return r.ctrl }

// Start brings up every component and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown

	if err := r.startBus(ctx); err != nil {
		r.shutdown()
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		r.shutdown()
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	if err := r.startPipeline(ctx); err != nil {
		r.shutdown()
		return err
	}

	if err := r.startHTTP(tel.metrics); err != nil {
		r.shutdown()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.watchToggleSignal(ctx)
	}()

	engineName, model := stt.Describe(r.engine)
	r.logger.Info("loqa-dictate ready",
		slog.String("hotkey", r.cfg.Hotkey),
		slog.String("engine", engineName),
		slog.String("model", model),
		slog.String("language", r.cfg.STT.Language),
		slog.String("insert_mode", r.cfg.Output.InsertMode),
		slog.Bool("vad", r.cfg.VAD.Enable),
		slog.String("strategy", r.cfg.Chunk.Strategy),
		slog.String("addr", r.Addr()),
	)
	r.ready.Store(true)
	close(r.readyCh)

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		ns, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "natsserver")))
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		r.nats = ns
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		// Dictation works without the bus; only remote control and fan-out are lost.
		r.logger.Warn("bus unavailable, continuing without it", slog.String("error", err.Error()))
		return nil
	}
	r.bus = client
	return nil
}

func (r *Runtime) startPipeline(ctx context.Context) error {
	if r.engine == nil {
		engine, err := stt.NewEngine(r.cfg.STT, r.cfg.Audio.SampleRate, r.logger)
		if err != nil {
			return fmt.Errorf("failed to create stt engine: %w", err)
		}
		r.engine = engine
	}
	if r.emitter == nil {
		emitter, err := emit.New(r.cfg.Output, r.logger)
		if err != nil {
			r.logger.Warn("text injection unavailable, logging transcripts instead",
				slog.String("insert_mode", r.cfg.Output.InsertMode),
				slog.String("error", err.Error()))
			emitter = emit.NewLogEmitter(r.logger)
		}
		r.emitter = emitter
	}
	if r.source == nil {
		source, err := capture.New(r.cfg.Audio, r.logger)
		if err != nil {
			return fmt.Errorf("failed to create capture source: %w", err)
		}
		r.source = source
	}

	engineName, model := stt.Describe(r.engine)
	observers := []pipeline.Observer{
		eventstore.NewRecorder(r.store, r.cfg.Output.LogTranscripts, engineName, model, r.logger),
	}
	if r.bus != nil {
		observers = append(observers, bus.NewPublisher(r.bus))
	}
	if r.cfg.Notify.Enabled {
		observers = append(observers, notify.New(r.cfg.Notify, r.logger))
	}

	ctrl, err := pipeline.New(ctx, r.cfg, pipeline.Deps{
		Source:    r.source,
		Engine:    r.engine,
		Emitter:   r.emitter,
		Observers: observers,
	}, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	r.ctrl = ctrl

	if r.bus != nil {
		r.responder = bus.NewControlResponder(r.bus, ctrl)
		if err := r.responder.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	r.registerAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.addr.Store(ln.Addr().String())
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, ln, "http server failed")

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		mln, err := net.Listen("tcp", r.cfg.Telemetry.PrometheusBind)
		if err != nil {
			r.logger.Warn("metrics listener unavailable", slog.String("error", err.Error()))
			return nil
		}
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
		r.serve(r.metricsServer, mln, "metrics server failed")
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, ln net.Listener, msg string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(msg, slog.String("error", err.Error()))
		}
	}()
}

// shutdown releases components in reverse start order. It tolerates
// partially started runtimes.
func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.responder != nil {
		r.responder.Close()
	}
	if r.ctrl != nil {
		if err := r.ctrl.Close(); err != nil {
			r.logger.Error("pipeline shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
