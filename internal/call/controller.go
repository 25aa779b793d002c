package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxmorph/voxmorph/internal/observe"
	"github.com/voxmorph/voxmorph/pkg/audio"
	"github.com/voxmorph/voxmorph/pkg/provider/voice"
)

var (
	// ErrCallInProgress is returned by StartCall when a call already exists.
	ErrCallInProgress = errors.New("call: a call is already in progress")

	// ErrNoActiveCall is returned by Hangup and Send when there is nothing
	// to hang up or talk to.
	ErrNoActiveCall = errors.New("call: no active call")
)

// AudioSink is the part of the output sink the controller drives.
type AudioSink interface {
	// Enqueue queues an agent audio chunk for playback.
	Enqueue(c audio.Chunk) error

	// Interrupt silences playback, returning the number of dropped chunks.
	// The sink stays silent until Resume.
	Interrupt(ctx context.Context) int

	// Resume lifts the post-interrupt silence for the next call.
	Resume()
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithTeardownCeiling overrides the teardown supervision ceiling.
func WithTeardownCeiling(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.ceiling = d
		}
	}
}

// WithStateListener registers a callback invoked on every state transition.
// The callback runs on whichever goroutine performed the transition and must
// return quickly.
func WithStateListener(fn func(State)) Option {
	return func(c *Controller) {
		c.onState = fn
	}
}

// WithTeardownObserver registers a callback invoked with the result of every
// supervised session teardown. Used to feed the call history.
func WithTeardownObserver(fn func(TeardownResult)) Option {
	return func(c *Controller) {
		c.onTeardown = fn
	}
}

// Controller owns the lifecycle of the single call. StartCall and Hangup
// are safe to invoke from any goroutine, repeatedly and concurrently; the
// state cell arbitrates so each transition has exactly one winner.
type Controller struct {
	dialer  voice.Dialer
	sink    AudioSink
	ceiling time.Duration
	log     *slog.Logger
	metrics    *observe.Metrics
	onState    func(State)
	onTeardown func(TeardownResult)

	state StateCell

	mu    sync.Mutex
	sess  voice.Session
	epoch uint64 // bumped on every start and hangup to fence stale workers
}

// New creates a Controller. A nil metrics falls back to the package default.
func New(dialer voice.Dialer, sink AudioSink, log *slog.Logger, metrics *observe.Metrics, opts ...Option) *Controller {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	c := &Controller{
		dialer:  dialer,
		sink:    sink,
		ceiling: DefaultTeardownCeiling,
		log:     log.With(slog.String("component", "call")),
		metrics: metrics,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current call state.
func (c *Controller) State() State {
	return c.state.Load()
}

func (c *Controller) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

// StartCall begins establishing a call to the given agent and returns
// immediately; connecting happens on a worker goroutine. Returns
// ErrCallInProgress if a call already exists in any non-idle state. Progress
// is reported through the state listener.
func (c *Controller) StartCall(ctx context.Context, agentID string) error {
	if !c.state.CompareAndSwap(Idle, Starting) {
		return ErrCallInProgress
	}
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	c.notify(Starting)
	c.log.Info("starting call", slog.String("agent_id", agentID))

	// The worker outlives the caller's request scope on purpose: cancelling
	// a start is Hangup's job, not the context's.
	go c.startWorker(context.WithoutCancel(ctx), agentID, epoch)
	return nil
}

func (c *Controller) startWorker(ctx context.Context, agentID string, epoch uint64) {
	start := time.Now()
	sess, err := c.dialer.StartSession(ctx, agentID)
	c.metrics.SessionStartDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordProviderError(ctx, "voice", "session_start")
		c.log.Error("starting session", slog.String("agent_id", agentID), slog.String("error", err.Error()))
		// The epoch check fences this worker off from any later call: a
		// hangup that raced us bumped the epoch and settles the state itself.
		c.mu.Lock()
		if c.epoch == epoch && c.state.CompareAndSwap(Starting, Idle) {
			c.mu.Unlock()
			c.notify(Idle)
			return
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.epoch == epoch && c.state.CompareAndSwap(Starting, Active) {
		c.sess = sess
		c.mu.Unlock()
		c.sink.Resume()
		c.metrics.ActiveCalls.Add(ctx, 1)
		c.notify(Active)
		c.log.Info("call active", slog.String("agent_id", agentID))
		go c.pump(sess)
		return
	}
	c.mu.Unlock()

	// Hangup won the race while we were connecting. The session we just
	// opened never becomes audible; tear it down under supervision. It was
	// never stored, so nobody else will.
	c.log.Info("call hung up during setup, discarding session")
	go audio.Drain(sess.Chunks())
	res := EndWithTimeout(ctx, sess, c.ceiling, c.log)
	c.metrics.RecordTeardown(ctx, res.Outcome.String(), res.Elapsed.Seconds())
	c.observeTeardown(res)
}

func (c *Controller) observeTeardown(res TeardownResult) {
	if c.onTeardown != nil {
		c.onTeardown(res)
	}
}

// pump moves agent audio from the session into the sink until the session's
// chunk channel closes. Once Hangup has released the session, anything still
// arriving belongs to a call the user already ended and is discarded without
// touching the sink.
func (c *Controller) pump(sess voice.Session) {
	for chunk := range sess.Chunks() {
		if !c.owns(sess) {
			c.discardRest(sess, 1)
			return
		}
		if err := c.sink.Enqueue(chunk); err != nil {
			c.log.Warn("enqueueing agent audio", slog.String("error", err.Error()))
			// Keep consuming so the session's reader never blocks on us;
			// teardown closes the channel and ends the drain.
			audio.Drain(sess.Chunks())
			return
		}
	}
}

// owns reports whether sess is still the controller's live session.
func (c *Controller) owns(sess voice.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == sess
}

// discardRest drains sess's remaining chunks, counting them as dropped.
func (c *Controller) discardRest(sess voice.Session, already int64) {
	dropped := already
	for range sess.Chunks() {
		dropped++
	}
	c.metrics.ChunksDropped.Add(context.Background(), dropped,
		metric.WithAttributes(observe.Attr("reason", "session_ending")))
	c.log.Debug("discarded audio from ended session", slog.Int64("chunks", dropped))
}

// Send forwards captured microphone audio to the live session. Dropped with
// ErrNoActiveCall while no call is active; losing mic audio during setup or
// teardown is harmless.
func (c *Controller) Send(ctx context.Context, pcm []byte) error {
	if c.state.Load() != Active {
		return ErrNoActiveCall
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNoActiveCall
	}
	return sess.SendAudio(ctx, pcm)
}

// Hangup ends the call: it immediately silences the sink, then supervises
// session teardown with the configured ceiling, so it returns within roughly
// that bound even when the provider's close handshake hangs. Exactly one
// concurrent caller performs the release; the rest get ErrNoActiveCall.
// Idle is a no-op.
func (c *Controller) Hangup(ctx context.Context) error {
	wasActive := false
	for {
		s := c.state.Load()
		if s == Active && c.state.CompareAndSwap(Active, Ending) {
			wasActive = true
			break
		}
		if s == Starting && c.state.CompareAndSwap(Starting, Ending) {
			break
		}
		if s != Active && s != Starting {
			return ErrNoActiveCall
		}
		// The worker flipped Starting to Active under us; retry from the
		// state we now observe so the user's hangup is never dropped.
	}
	c.notify(Ending)
	start := time.Now()

	dropped := c.sink.Interrupt(ctx)

	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.epoch++ // fence off a worker still connecting for this call
	c.mu.Unlock()

	if sess != nil {
		res := EndWithTimeout(ctx, sess, c.ceiling, c.log)
		c.metrics.RecordTeardown(ctx, res.Outcome.String(), res.Elapsed.Seconds())
		c.observeTeardown(res)
		if res.Err != nil {
			c.log.Warn("session teardown", slog.String("error", res.Err.Error()))
		}
	}

	if wasActive {
		c.metrics.ActiveCalls.Add(ctx, -1)
	}
	c.state.Store(Idle)
	c.notify(Idle)

	elapsed := time.Since(start)
	c.metrics.HangupDuration.Record(ctx, elapsed.Seconds())
	c.log.Info("call ended",
		slog.Int("dropped_chunks", dropped),
		slog.Duration("elapsed", elapsed))
	return nil
}
