// Package sink implements the output audio sink: the single consumer of
// agent audio that feeds the playback device.
//
// A Sink decouples the network producer from the blocking device writer with
// an unbounded chunk queue. Its distinguishing operation is Interrupt, which
// makes audio stop within tens of milliseconds regardless of how many chunks
// are queued: the queue is drained without playing, the device is told to
// discard whatever it has buffered, and the sink stays silent until Resume.
// Every substep of the interrupt path is best effort; a failing device stop
// is logged and the drain still counts as done, because a stuck hangup is
// worse than a few stray samples.
package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxmorph/voxmorph/internal/observe"
	"github.com/voxmorph/voxmorph/pkg/audio"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("sink: closed")

// Sink plays queued audio chunks on an output stream.
type Sink struct {
	queue   *audio.ChunkQueue
	out     audio.OutputStream
	log     *slog.Logger
	metrics *observe.Metrics

	// gate orders Enqueue against Interrupt's drain: once interrupted is
	// set, no chunk can slip into the queue behind the drain loop.
	gate        sync.Mutex
	interrupted bool

	playDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a Sink that plays on out and starts its playback goroutine.
// The caller keeps ownership of out until Close, which closes it. A nil
// metrics falls back to the package default.
func New(out audio.OutputStream, log *slog.Logger, metrics *observe.Metrics) *Sink {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Sink{
		queue:    audio.NewChunkQueue(),
		out:      out,
		log:      log.With(slog.String("component", "sink")),
		metrics:  metrics,
		playDone: make(chan struct{}),
	}
	go s.playLoop()
	return s
}

// Enqueue queues one chunk for playback. Returns ErrClosed after Close.
// Never blocks: the queue is unbounded, so a slow device cannot stall the
// producer. Between Interrupt and Resume the sink stays silent: chunks are
// dropped and counted, not queued, so a closing session that keeps
// delivering audio cannot restart playback.
func (s *Sink) Enqueue(c audio.Chunk) error {
	s.gate.Lock()
	if s.interrupted {
		s.gate.Unlock()
		s.metrics.ChunksDropped.Add(context.Background(), 1,
			metric.WithAttributes(observe.Attr("reason", "after_interrupt")))
		return nil
	}
	ok := s.queue.Put(c)
	s.gate.Unlock()
	if !ok {
		return ErrClosed
	}
	return nil
}

// playLoop is the single queue consumer. It starts the device lazily so that
// playback resumes after an interrupt as soon as new audio is queued.
func (s *Sink) playLoop() {
	defer close(s.playDone)
	for {
		c, ok := s.queue.Get()
		if !ok {
			return
		}
		if s.out.State() != audio.StreamActive {
			if err := s.out.Start(); err != nil {
				s.log.Warn("starting output stream", slog.String("error", err.Error()))
				continue
			}
		}
		if err := s.out.Write(c.Data); err != nil {
			s.log.Warn("writing chunk", slog.Uint64("seq", c.Seq), slog.String("error", err.Error()))
			continue
		}
		s.metrics.ChunksPlayed.Add(context.Background(), 1)
	}
}

// Interrupt silences the sink: it discards every queued chunk, then stops
// the device so buffered audio is dropped rather than drained. Both substeps
// are best effort and any failure is logged, never returned. The number of
// discarded chunks is returned for the caller's log line. Safe to call from
// any goroutine and at any time, including mid-playback and when the sink is
// already silent.
//
// The sink stays silent afterwards: audio arriving before the next Resume is
// dropped. This holds the silence through a slow session teardown, where the
// network side keeps delivering chunks until the close handshake lands.
func (s *Sink) Interrupt(ctx context.Context) int {
	start := time.Now()

	s.gate.Lock()
	s.interrupted = true
	dropped := 0
	for {
		if _, ok := s.queue.GetNoWait(); !ok {
			break
		}
		dropped++
	}
	s.gate.Unlock()

	// Stop is isolated from the drain: a device error must not leave queued
	// chunks behind to play later.
	if err := s.out.Stop(); err != nil {
		s.log.Warn("stopping output stream", slog.String("error", err.Error()))
	}

	elapsed := time.Since(start)
	if dropped > 0 {
		s.metrics.ChunksDropped.Add(ctx, int64(dropped),
			metric.WithAttributes(observe.Attr("reason", "interrupt")))
	}
	s.metrics.InterruptDuration.Record(ctx, elapsed.Seconds())
	s.log.Debug("interrupted playback",
		slog.Int("dropped_chunks", dropped),
		slog.Duration("elapsed", elapsed))
	return dropped
}

// Resume lifts the silence imposed by Interrupt so the next call's audio
// plays. A no-op when the sink was never interrupted.
func (s *Sink) Resume() {
	s.gate.Lock()
	s.interrupted = false
	s.gate.Unlock()
}

// Close shuts the sink down: no further chunks are accepted, the playback
// goroutine finishes the remaining queue, and the output stream is closed.
// Subsequent calls return the first result.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.queue.Close()
		<-s.playDone
		s.closeErr = s.out.Close()
	})
	return s.closeErr
}

// Pending returns the number of chunks waiting to be played.
func (s *Sink) Pending() int {
	return s.queue.Len()
}
