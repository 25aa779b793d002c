// Package app wires the voxmorph subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the console loop and the optional HTTP surface,
// and Shutdown tears everything down in reverse order.
//
// For testing, inject mock implementations via functional options
// (WithDialer, WithOutputStream, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/voxmorph/voxmorph/internal/call"
	"github.com/voxmorph/voxmorph/internal/config"
	"github.com/voxmorph/voxmorph/internal/history"
	"github.com/voxmorph/voxmorph/internal/observe"
	"github.com/voxmorph/voxmorph/internal/recorder"
	"github.com/voxmorph/voxmorph/internal/resilience"
	"github.com/voxmorph/voxmorph/internal/sink"
	"github.com/voxmorph/voxmorph/internal/ui"
	"github.com/voxmorph/voxmorph/pkg/audio"
	paudio "github.com/voxmorph/voxmorph/pkg/audio/portaudio"
	"github.com/voxmorph/voxmorph/pkg/provider/voice"
	"github.com/voxmorph/voxmorph/pkg/provider/voice/elevenlabs"
	"golang.org/x/sync/errgroup"
)

// App owns all subsystem lifetimes and orchestrates the call flow:
// voice selection → agent setup → calls → post-call voice rotation.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	baseLog *slog.Logger
	metrics *observe.Metrics

	cloner   voice.Cloner
	agentAPI voice.AgentManager
	dialer   voice.Dialer
	out      audio.OutputStream
	in       audio.InputStream
	store    *history.Store

	snk  *sink.Sink
	ctrl *call.Controller
	rec  *recorder.Recorder

	consoleIn  io.Reader
	consoleOut io.Writer

	agent voice.Agent

	mu           sync.Mutex
	current      voice.Voice
	lastSample   string
	callStart    time.Time
	lastTeardown call.TeardownResult

	// closers are run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCloner injects a voice catalogue client instead of the REST client.
func WithCloner(c voice.Cloner) Option {
	return func(a *App) { a.cloner = c }
}

// WithAgentManager injects an agent API instead of the REST client.
func WithAgentManager(m voice.AgentManager) Option {
	return func(a *App) { a.agentAPI = m }
}

// WithDialer injects a session dialer instead of the REST client.
func WithDialer(d voice.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithOutputStream injects a playback device instead of opening hardware.
func WithOutputStream(s audio.OutputStream) Option {
	return func(a *App) { a.out = s }
}

// WithInputStream injects a capture device instead of opening hardware.
func WithInputStream(s audio.InputStream) Option {
	return func(a *App) { a.in = s }
}

// WithHistory injects a call-history store instead of opening one from config.
func WithHistory(s *history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithConsole redirects the terminal control loop's streams.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.consoleIn = in
		a.consoleOut = out
	}
}

// New creates an App by wiring all subsystems together. Network and audio
// hardware are only touched for subsystems that were not injected.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:        cfg,
		log:        log.With(slog.String("component", "app")),
		baseLog:    log,
		metrics:    observe.DefaultMetrics(),
		consoleIn:  os.Stdin,
		consoleOut: os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initProvider(); err != nil {
		return nil, fmt.Errorf("app: init provider: %w", err)
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	a.snk = sink.New(a.out, log, a.metrics)
	a.closers = append(a.closers, a.snk.Close)

	a.rec = recorder.New(a.in, recorder.Config{
		SampleRate:       cfg.Audio.InputSampleRate,
		Channels:         cfg.Audio.InputChannels,
		TargetSpeech:     cfg.Recording.TargetSpeech,
		MaxTotal:         cfg.Recording.MaxTotal,
		SilenceThreshold: cfg.Recording.SilenceThreshold,
		MinSpeechRun:     cfg.Recording.MinSpeechRun,
		SilenceDebounce:  cfg.Recording.SilenceDebounce,
		OutputDir:        cfg.Recording.OutputDir,
	}, log)

	a.ctrl = call.New(a.dialer, a.snk, log, a.metrics,
		call.WithTeardownCeiling(cfg.Call.TeardownCeiling),
		call.WithStateListener(a.onState),
		call.WithTeardownObserver(a.onTeardown),
	)

	return a, nil
}

// initProvider fills the provider slots that were not injected with the REST
// client, and puts the shared circuit breaker in front of the REST surface.
func (a *App) initProvider() error {
	if a.cloner == nil || a.agentAPI == nil || a.dialer == nil {
		var opts []elevenlabs.Option
		if a.cfg.ElevenLabs.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(a.cfg.ElevenLabs.BaseURL))
		}
		client, err := elevenlabs.New(a.cfg.ElevenLabs.APIKey, opts...)
		if err != nil {
			return err
		}
		if a.cloner == nil {
			a.cloner = client
		}
		if a.agentAPI == nil {
			a.agentAPI = client
		}
		if a.dialer == nil {
			a.dialer = client
		}
	}

	guard := newAPIGuard(a.cloner, a.agentAPI, a.metrics,
		resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "elevenlabs"}))
	a.cloner = guard
	a.agentAPI = guard
	return nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	store, err := history.Open(ctx, a.cfg.History.Path)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initAudio opens the playback and capture devices unless both were injected.
func (a *App) initAudio() error {
	if a.out != nil && a.in != nil {
		return nil
	}

	if err := paudio.Initialize(); err != nil {
		return err
	}
	a.closers = append(a.closers, paudio.Terminate)

	if a.out == nil {
		out, err := paudio.OpenOutput(audio.Format{
			SampleRate: a.cfg.Audio.StreamSampleRate,
			Channels:   a.cfg.Audio.StreamChannels,
		}, a.baseLog)
		if err != nil {
			return err
		}
		a.out = out
	}
	if a.in == nil {
		in, err := paudio.OpenInput(audio.Format{
			SampleRate: a.cfg.Audio.InputSampleRate,
			Channels:   a.cfg.Audio.InputChannels,
		}, a.baseLog)
		if err != nil {
			return err
		}
		a.in = in
		a.closers = append(a.closers, in.Close)
	}
	return nil
}

// StartCall begins a call to the configured agent. Non-blocking; setup
// progress is visible via State.
func (a *App) StartCall(ctx context.Context, agentID string) error {
	ctx, span := observe.StartSpan(ctx, "call.start")
	defer span.End()

	if agentID == "" {
		agentID = a.agent.ID
	}
	if err := a.ctrl.StartCall(ctx, agentID); err != nil {
		return err
	}
	a.mu.Lock()
	a.callStart = time.Now()
	a.lastTeardown = call.TeardownResult{}
	a.mu.Unlock()
	return nil
}

// Hangup ends the current call, records it in the history, and kicks off
// voice rotation in the background so the hangup latency stays bounded.
func (a *App) Hangup(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "call.hangup")
	defer span.End()

	if err := a.ctrl.Hangup(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	started := a.callStart
	res := a.lastTeardown
	cur := a.current
	a.mu.Unlock()

	rec := history.Record{
		AgentID:         a.agent.ID,
		VoiceID:         cur.ID,
		VoiceName:       cur.Name,
		StartedAt:       started,
		Duration:        time.Since(started),
		TeardownOutcome: res.Outcome.String(),
	}
	if _, err := a.store.Add(ctx, rec); err != nil {
		a.log.Warn("recording call history", slog.String("error", err.Error()))
	}

	go a.rotateVoice(context.WithoutCancel(ctx))
	return nil
}

// State returns the current call state.
func (a *App) State() call.State { return a.ctrl.State() }

func (a *App) onState(s call.State) {
	if s == call.Active {
		go a.micLoop()
	}
}

func (a *App) onTeardown(res call.TeardownResult) {
	a.mu.Lock()
	a.lastTeardown = res
	a.mu.Unlock()
}

// Status returns human-readable status lines for the console.
func (a *App) Status(ctx context.Context) []string {
	a.mu.Lock()
	cur := a.current
	a.mu.Unlock()

	lines := []string{
		fmt.Sprintf("agent: %s (%s)", a.agent.Name, a.agent.ID),
		fmt.Sprintf("voice: %s (%s)", cur.Name, cur.ID),
	}
	records, err := a.store.Recent(ctx, 3)
	if err != nil {
		a.log.Warn("reading call history", slog.String("error", err.Error()))
		return lines
	}
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("call %s  %s  %s  %s",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Duration.Round(time.Second),
			r.VoiceName,
			r.TeardownOutcome))
	}
	return lines
}

// Run prepares the voice and agent, then serves the console loop and the
// optional HTTP surface until ctx is cancelled or the user quits.
func (a *App) Run(ctx context.Context) error {
	if err := a.Prepare(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	console := ui.New(a, a.agent.ID, a.Status, a.consoleIn, a.consoleOut, a.baseLog)
	g.Go(func() error {
		defer cancel()
		return console.Run(gctx)
	})

	if a.cfg.Server.ListenAddr != "" {
		srv := a.newServer()
		g.Go(func() error {
			a.log.Info("http surface listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()

	// Drop any call still live before reporting back.
	if hupErr := a.ctrl.Hangup(context.Background()); hupErr != nil && hupErr != call.ErrNoActiveCall {
		a.log.Warn("hangup on exit", slog.String("error", hupErr.Error()))
	}
	return err
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", slog.Int("closers", len(a.closers)))

		if err := a.ctrl.Hangup(ctx); err != nil && err != call.ErrNoActiveCall {
			a.log.Warn("hangup during shutdown", slog.String("error", err.Error()))
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", slog.Int("remaining", i+1))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
