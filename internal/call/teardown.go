package call

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTeardownCeiling is the default upper bound on how long a hangup
// waits for session teardown before abandoning it.
const DefaultTeardownCeiling = 2 * time.Second

// Session is the part of a live conversation the teardown supervisor needs:
// the potentially-unbounded close operation.
type Session interface {
	// EndSession closes the session. May block for an arbitrary time on the
	// remote close handshake. Must be idempotent and safe from any goroutine.
	EndSession() error
}

// TeardownOutcome reports how a supervised teardown finished.
type TeardownOutcome int

const (
	// TeardownCompleted means EndSession returned within the ceiling.
	TeardownCompleted TeardownOutcome = iota

	// TeardownTimedOut means the ceiling elapsed first. EndSession is still
	// running on an abandoned goroutine; its eventual result is logged there
	// and nowhere else.
	TeardownTimedOut
)

// String returns the outcome name used in logs and metric attributes.
func (o TeardownOutcome) String() string {
	if o == TeardownTimedOut {
		return "timed_out"
	}
	return "completed"
}

// TeardownResult is the outcome of one supervised teardown.
type TeardownResult struct {
	Outcome TeardownOutcome

	// Err is EndSession's error when Outcome is TeardownCompleted. Always
	// nil on timeout: a result that never arrived has no error.
	Err error

	// Elapsed is how long the supervisor waited.
	Elapsed time.Duration
}

// EndWithTimeout runs sess.EndSession on its own goroutine and waits at most
// ceiling for it to finish. On timeout the goroutine is abandoned, not
// killed: it keeps running until EndSession returns, at which point the late
// result is logged at debug level. The caller gets a result in bounded time
// either way.
//
// ctx only bounds the supervisor's wait, like a second ceiling; it is not
// passed to EndSession, which has no cancellation of its own.
func EndWithTimeout(ctx context.Context, sess Session, ceiling time.Duration, log *slog.Logger) TeardownResult {
	if ceiling <= 0 {
		ceiling = DefaultTeardownCeiling
	}
	start := time.Now()

	// Buffered so the abandoned goroutine never blocks sending a result
	// nobody will read.
	done := make(chan error, 1)
	go func() {
		done <- sess.EndSession()
	}()

	timer := time.NewTimer(ceiling)
	defer timer.Stop()

	select {
	case err := <-done:
		return TeardownResult{Outcome: TeardownCompleted, Err: err, Elapsed: time.Since(start)}
	case <-timer.C:
	case <-ctx.Done():
	}

	elapsed := time.Since(start)
	log.Warn("session teardown exceeded ceiling, abandoning",
		slog.Duration("ceiling", ceiling),
		slog.Duration("elapsed", elapsed))
	go func() {
		err := <-done
		log.Debug("abandoned teardown finally returned",
			slog.Duration("total", time.Since(start)),
			slog.Any("error", err))
	}()
	return TeardownResult{Outcome: TeardownTimedOut, Elapsed: elapsed}
}
